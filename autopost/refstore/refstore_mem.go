package refstore

import (
	"context"
	"time"

	"github.com/heraldhq/herald/autopost/transport"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type MemRefStore struct {
	Data *expirable.LRU[string, transport.MessageID]
}

var _ RefStore = (*MemRefStore)(nil)

func NewMemRefStore(capacity int, ttl time.Duration) MemRefStore {
	return MemRefStore{
		Data: expirable.NewLRU[string, transport.MessageID](capacity, nil, ttl),
	}
}

func (s MemRefStore) Get(ctx context.Context, acct transport.AccountID, dest transport.DestinationID) (transport.MessageID, error) {
	v, ok := s.Data.Get(refKey(acct, dest))
	if !ok {
		return "", nil
	}
	return v, nil
}

func (s MemRefStore) Set(ctx context.Context, acct transport.AccountID, dest transport.DestinationID, msg transport.MessageID) error {
	s.Data.Add(refKey(acct, dest), msg)
	return nil
}

func (s MemRefStore) Purge(ctx context.Context, acct transport.AccountID, dest transport.DestinationID) error {
	s.Data.Remove(refKey(acct, dest))
	return nil
}
