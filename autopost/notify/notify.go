package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/heraldhq/herald/autopost/transport"
)

type Kind string

const (
	KindFrozen             Kind = "frozen"
	KindUnfrozen           Kind = "unfrozen"
	KindCredentialsInvalid Kind = "credentials-invalid"
	KindLoopStuck          Kind = "loop-stuck"
)

// Operator-facing notification about a single account
type Notice struct {
	Account     transport.AccountID
	Kind        Kind
	Destination transport.DestinationID
	Identity    transport.IdentityID
	Err         error
	Time        time.Time
}

// Short human-readable summary, used as message text by the chat notifiers.
func (n Notice) Text() string {
	switch n.Kind {
	case KindFrozen:
		return fmt.Sprintf("🥶 publishing to %s frozen: moderator %s replied to your message", n.Destination, n.Identity)
	case KindUnfrozen:
		return fmt.Sprintf("🔥 publishing to %s resumed after your reply to %s", n.Destination, n.Identity)
	case KindCredentialsInvalid:
		return fmt.Sprintf("⛔ account %s credentials are no longer valid; publishing stopped", n.Account)
	case KindLoopStuck:
		return fmt.Sprintf("⚠️ publishing loop for %s did not stop: %v", n.Account, n.Err)
	default:
		return fmt.Sprintf("%s: %s", n.Kind, n.Account)
	}
}

// Interface for a type that can deliver operator notifications
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Writes notices to a structured logger. Always configured in the daemon.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(ctx context.Context, n Notice) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := []any{"account", n.Account, "kind", n.Kind}
	if n.Destination != "" {
		args = append(args, "destination", n.Destination)
	}
	if n.Identity != "" {
		args = append(args, "identity", n.Identity)
	}
	if n.Err != nil {
		args = append(args, "err", n.Err)
	}
	logger.Warn("operator notice", args...)
	return nil
}

// Delivers each notice to every notifier, in order. All notifiers are attempted even if one fails.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) error {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		noticeErrors.WithLabelValues(string(n.Kind)).Inc()
	}
	noticesSent.WithLabelValues(string(n.Kind)).Inc()
	return errors.Join(errs...)
}
