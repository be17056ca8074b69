package notify

import (
	"context"

	"github.com/heraldhq/herald/autopost/transport"
)

// Destination id which the gateway maps to an account's private "saved messages" chat
const SelfDestination transport.DestinationID = "self"

// Sends notices to the affected account itself, so the operator sees them in their own client.
type SelfNotifier struct {
	Transport transport.Transport
}

func (n *SelfNotifier) Notify(ctx context.Context, notice Notice) error {
	// can't reach the account through the gateway once its session is gone
	if notice.Kind == KindCredentialsInvalid {
		return nil
	}
	_, err := n.Transport.Send(ctx, notice.Account, SelfDestination, transport.Payload{Text: notice.Text()}, "")
	return err
}
