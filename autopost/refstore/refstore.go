package refstore

import (
	"context"

	"github.com/heraldhq/herald/autopost/transport"
)

// Remembers the most recent message published by an account to each destination, so it can be retracted later.
//
// Entries expire after a fixed TTL; a missing entry is reported as an empty MessageID, not an error.
type RefStore interface {
	Get(ctx context.Context, acct transport.AccountID, dest transport.DestinationID) (transport.MessageID, error)
	Set(ctx context.Context, acct transport.AccountID, dest transport.DestinationID, msg transport.MessageID) error
	Purge(ctx context.Context, acct transport.AccountID, dest transport.DestinationID) error
}

func refKey(acct transport.AccountID, dest transport.DestinationID) string {
	return string(acct) + "/" + string(dest)
}
