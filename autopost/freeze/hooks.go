package freeze

import (
	"context"
	"log/slog"
	"time"

	"github.com/heraldhq/herald/autopost/notify"
	"github.com/heraldhq/herald/autopost/transport"
)

// Inbound event handlers which drive the freeze state machine.
type Hooks struct {
	Ledger    Ledger
	Transport transport.Transport
	Notifier  notify.Notifier
	Logger    *slog.Logger
	// overridable for tests
	Now func() time.Time
}

func NewHooks(ledger Ledger, tr transport.Transport, notifier notify.Notifier, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{
		Ledger:    ledger,
		Transport: tr,
		Notifier:  notifier,
		Logger:    logger,
		Now:       time.Now,
	}
}

// Freezes the destination when a privileged participant replies to one of the account's own messages.
func (h *Hooks) HandleIncoming(ctx context.Context, evt *transport.MessageEvent) error {
	if evt.Outgoing || !evt.IsReply() || !evt.ReplyTo.Outgoing {
		return nil
	}
	logger := h.Logger.With("account", evt.Account, "destination", evt.Destination, "sender", evt.Sender)

	role, err := h.Transport.Role(ctx, evt.Account, evt.Destination, evt.Sender)
	if err != nil {
		// unresolvable sender has no privilege
		logger.Debug("could not resolve sender role", "err", err)
		return nil
	}
	if !role.IsPrivileged() {
		return nil
	}

	created, err := h.Ledger.Freeze(ctx, evt.Account, evt.Destination, evt.Sender, h.Now())
	if err != nil {
		return err
	}
	if !created {
		logger.Info("destination already frozen, tracking latest moderator")
		return nil
	}
	freezeTransitions.WithLabelValues("frozen").Inc()
	logger.Info("destination frozen", "role", role)
	h.notify(ctx, logger, notify.Notice{
		Account:     evt.Account,
		Kind:        notify.KindFrozen,
		Destination: evt.Destination,
		Identity:    evt.Sender,
		Time:        h.Now(),
	})
	return nil
}

// Unfreezes the destination when the account itself replies to the identity which froze it.
func (h *Hooks) HandleOutgoing(ctx context.Context, evt *transport.MessageEvent) error {
	if !evt.Outgoing || !evt.IsReply() || evt.ReplyTo.Sender == "" {
		return nil
	}
	removed, err := h.Ledger.Unfreeze(ctx, evt.Account, evt.Destination, evt.ReplyTo.Sender)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	freezeTransitions.WithLabelValues("unfrozen").Inc()
	logger := h.Logger.With("account", evt.Account, "destination", evt.Destination)
	logger.Info("destination unfrozen", "identity", evt.ReplyTo.Sender)
	h.notify(ctx, logger, notify.Notice{
		Account:     evt.Account,
		Kind:        notify.KindUnfrozen,
		Destination: evt.Destination,
		Identity:    evt.ReplyTo.Sender,
		Time:        h.Now(),
	})
	return nil
}

func (h *Hooks) notify(ctx context.Context, logger *slog.Logger, n notify.Notice) {
	if h.Notifier == nil {
		return
	}
	if err := h.Notifier.Notify(ctx, n); err != nil {
		logger.Error("failed to notify operator", "kind", n.Kind, "err", err)
	}
}
