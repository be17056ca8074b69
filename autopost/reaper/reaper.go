package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/heraldhq/herald/autopost/store"
	"github.com/heraldhq/herald/autopost/transport"
)

const (
	DefaultLeaseTTL = 24 * time.Hour
	DefaultPeriod   = time.Hour
)

// Expires temporary destination memberships.
type Reaper struct {
	Leases    store.LeaseStore
	Transport transport.Transport
	TTL       time.Duration
	Period    time.Duration
	Logger    *slog.Logger
	// overridable for tests
	Now func() time.Time
}

func NewReaper(leases store.LeaseStore, tr transport.Transport, ttl, period time.Duration, logger *slog.Logger) *Reaper {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		Leases:    leases,
		Transport: tr,
		TTL:       ttl,
		Period:    period,
		Logger:    logger.With("component", "reaper"),
		Now:       time.Now,
	}
}

// Joins a destination on the account's behalf and records a lease, so the membership is dropped after the TTL.
func (r *Reaper) JoinTemporarily(ctx context.Context, acct transport.AccountID, dest transport.DestinationID) error {
	if err := r.Transport.Join(ctx, acct, dest); err != nil {
		return err
	}
	leasesCreated.Inc()
	return r.Leases.PutLease(ctx, store.MembershipLease{
		Account:     acct,
		Destination: dest,
		JoinedAt:    r.Now(),
	})
}

// Performs a single pass, leaving and deleting every lease older than the TTL. Returns the number of leases removed.
func (r *Reaper) RunOnce(ctx context.Context, now time.Time) (int, error) {
	leases, err := r.Leases.ListLeases(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, lease := range leases {
		if now.Sub(lease.JoinedAt) <= r.TTL {
			continue
		}
		logger := r.Logger.With("account", lease.Account, "destination", lease.Destination)
		if err := r.Transport.Leave(ctx, lease.Account, lease.Destination); err != nil {
			if ctx.Err() != nil {
				return removed, ctx.Err()
			}
			// lease is dropped anyway; a failed leave is not retried
			leaveFailures.Inc()
			logger.Warn("failed to leave expired destination", "err", err)
		}
		if err := r.Leases.DeleteLease(ctx, lease.Account, lease.Destination); err != nil {
			logger.Error("failed to delete expired lease", "err", err)
			continue
		}
		leasesExpired.Inc()
		logger.Info("membership lease expired", "joinedAt", lease.JoinedAt)
		removed++
	}
	return removed, nil
}

// Runs passes on a fixed period until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Period)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx, r.Now()); err != nil && ctx.Err() == nil {
			r.Logger.Error("reaper pass failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
