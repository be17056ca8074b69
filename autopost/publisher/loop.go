package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/heraldhq/herald/autopost/freeze"
	"github.com/heraldhq/herald/autopost/refstore"
	"github.com/heraldhq/herald/autopost/store"
	"github.com/heraldhq/herald/autopost/transport"
)

const (
	DefaultInterSendDelay      = 5 * time.Second
	DefaultDangerCooldown      = 5 * time.Minute
	DefaultStoreRetryDelay     = 30 * time.Second
	DefaultMaxRateLimitRetries = 3
)

// Interface for the presence check consulted before each send
type DangerChecker interface {
	IsDangerous(ctx context.Context, acct transport.AccountID) bool
}

// Cancellable wait. Returns a non-nil error only if the context ended first.
type Sleeper func(ctx context.Context, d time.Duration) error

func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type LoopConfig struct {
	InterSendDelay      time.Duration
	DangerCooldown      time.Duration
	StoreRetryDelay     time.Duration
	MaxRateLimitRetries int
}

func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		InterSendDelay:      DefaultInterSendDelay,
		DangerCooldown:      DefaultDangerCooldown,
		StoreRetryDelay:     DefaultStoreRetryDelay,
		MaxRateLimitRetries: DefaultMaxRateLimitRetries,
	}
}

// Recurring publisher for a single account. One Loop value can serve any number of accounts; all per-account state lives in the stores it is wired to.
type Loop struct {
	Jobs      store.JobStore
	Ledger    freeze.Ledger
	Radar     DangerChecker
	Refs      refstore.RefStore
	Transport transport.Transport
	Config    LoopConfig
	// optional
	Budget *SendBudget
	Logger *slog.Logger
	// overridable for tests
	Sleep Sleeper
}

func NewLoop(jobs store.JobStore, ledger freeze.Ledger, radar DangerChecker, refs refstore.RefStore, tr transport.Transport, config LoopConfig, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		Jobs:      jobs,
		Ledger:    ledger,
		Radar:     radar,
		Refs:      refs,
		Transport: tr,
		Config:    config,
		Logger:    logger,
		Sleep:     SleepContext,
	}
}

// Publishes the account's job every interval until the job is deactivated or removed (returns nil), the context is cancelled (returns nil), or the account's credentials are rejected (returns transport.ErrCredentialsInvalid).
func (l *Loop) Run(ctx context.Context, acct transport.AccountID) error {
	logger := l.Logger.With("account", acct)
	logger.Info("publishing loop starting")
	defer logger.Info("publishing loop exited")

	for {
		job, err := l.Jobs.GetJob(ctx, acct)
		if errors.Is(err, store.ErrNotFound) {
			logger.Info("publishing job removed")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("failed to load publishing job", "err", err, "retryIn", l.Config.StoreRetryDelay)
			if l.Sleep(ctx, l.Config.StoreRetryDelay) != nil {
				return nil
			}
			continue
		}
		if !job.Active {
			logger.Info("publishing job deactivated")
			return nil
		}

		start := time.Now()
		err = l.RunCycle(ctx, job)
		cycleDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		cyclesCompleted.Inc()

		if l.Sleep(ctx, job.Interval) != nil {
			return nil
		}
	}
}

// Processes every destination of the job once, in order. Errors scoped to one destination are logged and contained; only cancellation and credential invalidation are returned.
func (l *Loop) RunCycle(ctx context.Context, job *store.PublishingJob) error {
	logger := l.Logger.With("account", job.Account)
	for _, dest := range job.Destinations {
		if err := ctx.Err(); err != nil {
			return err
		}
		dlog := logger.With("destination", dest)

		rec, err := l.Ledger.Get(ctx, job.Account, dest)
		if err != nil {
			// unknown freeze state; not sending is the safe side
			dlog.Warn("failed to read freeze state, skipping destination", "err", err)
			destinationOutcomes.WithLabelValues("error").Inc()
			continue
		}
		if rec != nil {
			dlog.Debug("destination frozen, skipping", "identity", rec.Identity)
			destinationOutcomes.WithLabelValues("frozen").Inc()
			continue
		}

		if l.Radar.IsDangerous(ctx, job.Account) {
			dlog.Info("watched identity active, retracting last message")
			destinationOutcomes.WithLabelValues("danger").Inc()
			l.retract(ctx, job.Account, dest)
			if err := l.Sleep(ctx, l.Config.DangerCooldown); err != nil {
				return err
			}
			continue
		}

		if !l.Budget.Allow(job.Account) {
			dlog.Warn("hourly send budget exhausted, ending cycle early")
			destinationOutcomes.WithLabelValues("budget").Inc()
			return nil
		}

		err = l.publish(ctx, job, dest)
		if err != nil {
			l.Budget.Refund(job.Account)
		}
		if errors.Is(err, transport.ErrCredentialsInvalid) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			dlog.Warn("failed to publish", "err", err)
			destinationOutcomes.WithLabelValues("error").Inc()
			continue
		}
		destinationOutcomes.WithLabelValues("sent").Inc()

		if err := l.Sleep(ctx, l.Config.InterSendDelay); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) publish(ctx context.Context, job *store.PublishingJob, dest transport.DestinationID) error {
	for attempt := 0; ; attempt++ {
		msg, err := l.Transport.Send(ctx, job.Account, dest, job.Payload, "")
		if err == nil {
			if err := l.Refs.Set(ctx, job.Account, dest, msg); err != nil {
				l.Logger.Warn("failed to record last published message", "account", job.Account, "destination", dest, "err", err)
			}
			return nil
		}
		wait, ok := transport.AsRateLimit(err)
		if !ok {
			return err
		}
		rateLimitWaits.Inc()
		if attempt >= l.Config.MaxRateLimitRetries {
			return fmt.Errorf("still rate limited after %d waits: %w", attempt, err)
		}
		l.Logger.Info("rate limited, waiting", "account", job.Account, "destination", dest, "wait", wait)
		if err := l.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Best-effort removal of the last message published to dest.
func (l *Loop) retract(ctx context.Context, acct transport.AccountID, dest transport.DestinationID) {
	msg, err := l.Refs.Get(ctx, acct, dest)
	if err != nil || msg == "" {
		return
	}
	// the message may already be gone
	_ = l.Transport.Delete(ctx, acct, dest, msg)
	_ = l.Refs.Purge(ctx, acct, dest)
	retractions.Inc()
}
