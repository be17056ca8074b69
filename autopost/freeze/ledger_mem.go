package freeze

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/heraldhq/herald/autopost/transport"
)

type MemLedger struct {
	mu   sync.Mutex
	data map[transport.AccountID]map[transport.DestinationID]Record
}

var _ Ledger = (*MemLedger)(nil)

func NewMemLedger() *MemLedger {
	return &MemLedger{
		data: make(map[transport.AccountID]map[transport.DestinationID]Record),
	}
}

func (l *MemLedger) Get(ctx context.Context, acct transport.AccountID, dest transport.DestinationID) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.data[acct][dest]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (l *MemLedger) Freeze(ctx context.Context, acct transport.AccountID, dest transport.DestinationID, ident transport.IdentityID, at time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	recs, ok := l.data[acct]
	if !ok {
		recs = make(map[transport.DestinationID]Record)
		l.data[acct] = recs
	}
	if rec, ok := recs[dest]; ok {
		rec.Identity = ident
		recs[dest] = rec
		return false, nil
	}
	recs[dest] = Record{
		Account:     acct,
		Destination: dest,
		Identity:    ident,
		CreatedAt:   at,
	}
	return true, nil
}

func (l *MemLedger) Unfreeze(ctx context.Context, acct transport.AccountID, dest transport.DestinationID, ident transport.IdentityID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.data[acct][dest]
	if !ok {
		return false, nil
	}
	if ident != "" && rec.Identity != ident {
		return false, nil
	}
	delete(l.data[acct], dest)
	return true, nil
}

func (l *MemLedger) List(ctx context.Context, acct transport.AccountID) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, 0, len(l.data[acct]))
	for _, rec := range l.data[acct] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Destination < out[j].Destination })
	return out, nil
}

func (l *MemLedger) Clear(ctx context.Context, acct transport.AccountID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.data[acct])
	delete(l.data, acct)
	return n, nil
}
