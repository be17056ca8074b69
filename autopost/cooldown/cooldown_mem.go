package cooldown

import (
	"context"
	"time"

	"github.com/heraldhq/herald/autopost/transport"

	"github.com/puzpuzpuz/xsync/v3"
)

type memEntry struct {
	fired time.Time
	// fire time replaced by the most recent fire; zero if there was none
	prev time.Time
}

type MemGate struct {
	Window time.Duration
	// overridable for tests
	Now func() time.Time

	lastFired *xsync.MapOf[string, memEntry]
}

var _ Gate = (*MemGate)(nil)

func NewMemGate(window time.Duration) *MemGate {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemGate{
		Window:    window,
		Now:       time.Now,
		lastFired: xsync.NewMapOf[string, memEntry](),
	}
}

func (g *MemGate) ShouldFire(ctx context.Context, dest transport.DestinationID, sender transport.IdentityID, keyword string) (bool, error) {
	now := g.Now()
	fire := false
	g.lastFired.Compute(entryKey(dest, sender, keyword), func(cur memEntry, loaded bool) (memEntry, bool) {
		if !loaded || now.Sub(cur.fired) >= g.Window {
			fire = true
			return memEntry{fired: now, prev: cur.fired}, false
		}
		return cur, false
	})
	if fire {
		cooldownFires.Inc()
	} else {
		cooldownSuppressed.Inc()
	}
	return fire, nil
}

// Restores the fire time which the last successful ShouldFire replaced.
func (g *MemGate) Release(ctx context.Context, dest transport.DestinationID, sender transport.IdentityID, keyword string) error {
	g.lastFired.Compute(entryKey(dest, sender, keyword), func(cur memEntry, loaded bool) (memEntry, bool) {
		if !loaded {
			return cur, true
		}
		if cur.prev.IsZero() {
			return cur, true
		}
		return memEntry{fired: cur.prev}, false
	})
	cooldownReleases.Inc()
	return nil
}

// Drops entries which are older than the window. Safe to call concurrently with ShouldFire.
func (g *MemGate) Sweep() int {
	now := g.Now()
	removed := 0
	g.lastFired.Range(func(key string, last memEntry) bool {
		if now.Sub(last.fired) >= g.Window {
			g.lastFired.Compute(key, func(cur memEntry, loaded bool) (memEntry, bool) {
				if loaded && now.Sub(cur.fired) >= g.Window {
					removed++
					return cur, true
				}
				return cur, !loaded
			})
		}
		return true
	})
	return removed
}

func (g *MemGate) Len() int {
	return g.lastFired.Size()
}
