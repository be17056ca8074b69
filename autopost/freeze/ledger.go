package freeze

import (
	"context"
	"time"

	"github.com/heraldhq/herald/autopost/transport"
)

// Suspension of publishing for one (account, destination) pair. Exists only while the destination is frozen.
type Record struct {
	Account     transport.AccountID     `json:"account"`
	Destination transport.DestinationID `json:"destination"`
	// privileged identity whose reply triggered the freeze; most recent one wins
	Identity  transport.IdentityID `json:"identity"`
	CreatedAt time.Time            `json:"created_at"`
}

// Records, queries and clears freeze state. A destination without a record is implicitly active.
type Ledger interface {
	// Returns nil (and no error) if the destination is not frozen
	Get(ctx context.Context, acct transport.AccountID, dest transport.DestinationID) (*Record, error)
	// Returns true if this call moved the destination from active to frozen. Freezing an already frozen destination replaces the recorded identity but keeps the original creation time.
	Freeze(ctx context.Context, acct transport.AccountID, dest transport.DestinationID, ident transport.IdentityID, at time.Time) (bool, error)
	// Removes the record if it exists and, when ident is non-empty, was triggered by ident. Returns true if a record was removed.
	Unfreeze(ctx context.Context, acct transport.AccountID, dest transport.DestinationID, ident transport.IdentityID) (bool, error)
	List(ctx context.Context, acct transport.AccountID) ([]Record, error)
	// Removes every record for the account, returning how many there were
	Clear(ctx context.Context, acct transport.AccountID) (int, error)
}
