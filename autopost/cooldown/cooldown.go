package cooldown

import (
	"context"
	"time"

	"github.com/heraldhq/herald/autopost/transport"
)

const DefaultWindow = 600 * time.Second

// Decides whether a triggered reply rule may fire now.
//
// ShouldFire is an atomic check-and-set: when it returns true, the fire time for the (destination, sender, keyword) triple has already been recorded, so a rapid duplicate event sees false. If the reply then fails to go out, the caller undoes the fire with Release.
type Gate interface {
	ShouldFire(ctx context.Context, dest transport.DestinationID, sender transport.IdentityID, keyword string) (bool, error)
	// Rolls back the caller's own successful ShouldFire, so the triple is not silenced by a reply which was never delivered.
	Release(ctx context.Context, dest transport.DestinationID, sender transport.IdentityID, keyword string) error
}

func entryKey(dest transport.DestinationID, sender transport.IdentityID, keyword string) string {
	return string(dest) + "/" + string(sender) + "/" + keyword
}
