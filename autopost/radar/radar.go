package radar

import (
	"context"
	"log/slog"
	"time"

	"github.com/heraldhq/herald/autopost/store"
	"github.com/heraldhq/herald/autopost/transport"
)

const DefaultRecencyWindow = 5 * time.Minute

// Point-in-time presence check against an account's watch list.
type Radar struct {
	Transport transport.Transport
	Watch     store.WatchStore
	// a watched identity last seen within this window counts as active
	RecencyWindow time.Duration
	Logger        *slog.Logger
	// overridable for tests
	Now func() time.Time
}

func NewRadar(tr transport.Transport, watch store.WatchStore, recency time.Duration, logger *slog.Logger) *Radar {
	if recency <= 0 {
		recency = DefaultRecencyWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Radar{
		Transport:     tr,
		Watch:         watch,
		RecencyWindow: recency,
		Logger:        logger,
		Now:           time.Now,
	}
}

// Returns true as soon as any watched identity is active or was active within the recency window. Identities after the first dangerous one are not resolved.
func (r *Radar) IsDangerous(ctx context.Context, acct transport.AccountID) bool {
	refs, err := r.Watch.ListWatched(ctx, acct)
	if err != nil {
		r.Logger.Warn("failed to read watch list, assuming no danger", "account", acct, "err", err)
		return false
	}
	for _, ref := range refs {
		p, err := r.Transport.Presence(ctx, acct, ref)
		if err != nil {
			// one unresolvable identity is not danger; keep checking the rest
			radarResolveErrors.Inc()
			r.Logger.Debug("presence lookup failed", "account", acct, "ref", ref, "err", err)
			continue
		}
		if r.isActive(p) {
			radarDangerCount.Inc()
			r.Logger.Info("watched identity active", "account", acct, "ref", ref, "status", p.Status)
			return true
		}
	}
	return false
}

func (r *Radar) isActive(p *transport.Presence) bool {
	switch p.Status {
	case transport.PresenceOnline, transport.PresenceRecently:
		return true
	}
	if !p.LastSeen.IsZero() && r.Now().Sub(p.LastSeen) <= r.RecencyWindow {
		return true
	}
	return false
}
