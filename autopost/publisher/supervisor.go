package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/heraldhq/herald/autopost/notify"
	"github.com/heraldhq/herald/autopost/store"
	"github.com/heraldhq/herald/autopost/transport"

	"github.com/puzpuzpuz/xsync/v3"
)

const DefaultStopTimeout = 30 * time.Second

var (
	ErrStopTimeout = errors.New("publishing loop did not stop in time")
	ErrShutdown    = errors.New("supervisor is shut down")
)

type LoopState int

const (
	NotRunning LoopState = iota
	Running
	Stopping
)

func (s LoopState) String() string {
	switch s {
	case NotRunning:
		return "not-running"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("LoopState(%d)", int(s))
	}
}

func (s LoopState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Interface for the per-account work started by the Supervisor. Run must return promptly once ctx is cancelled.
type Runner interface {
	Run(ctx context.Context, acct transport.AccountID) error
}

type LoopInfo struct {
	Account   transport.AccountID `json:"account"`
	State     LoopState           `json:"state"`
	StartedAt time.Time           `json:"started_at"`
}

type loopHandle struct {
	state     LoopState
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// Owns the "at most one publishing loop per account" invariant. Reconfigure is the only way loops are started or stopped.
type Supervisor struct {
	Jobs        store.JobStore
	Runner      Runner
	Notifier    notify.Notifier
	Logger      *slog.Logger
	StopTimeout time.Duration

	baseCtx    context.Context
	baseCancel context.CancelFunc

	lk    sync.Mutex
	loops map[transport.AccountID]*loopHandle
	wg    sync.WaitGroup

	// serializes Reconfigure calls per account
	acctLocks *xsync.MapOf[transport.AccountID, *sync.Mutex]
}

func NewSupervisor(jobs store.JobStore, runner Runner, notifier notify.Notifier, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		Jobs:        jobs,
		Runner:      runner,
		Notifier:    notifier,
		Logger:      logger.With("component", "supervisor"),
		StopTimeout: DefaultStopTimeout,
		baseCtx:     ctx,
		baseCancel:  cancel,
		loops:       make(map[transport.AccountID]*loopHandle),
		acctLocks:   xsync.NewMapOf[transport.AccountID, *sync.Mutex](),
	}
}

// Stops any running loop for the account (waiting for it to fully exit), re-reads the job, and starts a fresh loop if the job is active.
//
// Loops run on the supervisor's own context, not ctx. Cancelling ctx does not interrupt a restart: once the old loop has been cancelled the job is always re-read, so an active job is never left without a loop.
func (s *Supervisor) Reconfigure(ctx context.Context, acct transport.AccountID) error {
	lk, _ := s.acctLocks.LoadOrCompute(acct, func() *sync.Mutex { return &sync.Mutex{} })
	lk.Lock()
	defer lk.Unlock()

	if s.baseCtx.Err() != nil {
		return ErrShutdown
	}
	reconfigureCount.Inc()
	ctx = context.WithoutCancel(ctx)

	if err := s.stop(acct); err != nil {
		return err
	}

	job, err := s.Jobs.GetJob(ctx, acct)
	if errors.Is(err, store.ErrNotFound) {
		s.Logger.Info("no publishing job, loop stays stopped", "account", acct)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading publishing job: %w", err)
	}
	if !job.Active {
		s.Logger.Info("publishing job inactive, loop stays stopped", "account", acct)
		return nil
	}
	return s.start(acct)
}

// Reconfigures every stored job. Used at startup.
func (s *Supervisor) ReconfigureAll(ctx context.Context) error {
	jobs, err := s.Jobs.ListJobs(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, job := range jobs {
		if err := s.Reconfigure(ctx, job.Account); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", job.Account, err))
		}
	}
	return errors.Join(errs...)
}

// Cancels the account's loop and waits up to StopTimeout for it to exit.
func (s *Supervisor) stop(acct transport.AccountID) error {
	s.lk.Lock()
	h, ok := s.loops[acct]
	if !ok {
		s.lk.Unlock()
		return nil
	}
	h.state = Stopping
	h.cancel()
	s.lk.Unlock()

	timer := time.NewTimer(s.StopTimeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
		s.Logger.Error("publishing loop did not stop", "account", acct, "timeout", s.StopTimeout)
		s.notify(notify.Notice{
			Account: acct,
			Kind:    notify.KindLoopStuck,
			Err:     ErrStopTimeout,
			Time:    time.Now(),
		})
		return ErrStopTimeout
	}
}

// caller must hold the account lock
func (s *Supervisor) start(acct transport.AccountID) error {
	ctx, cancel := context.WithCancel(s.baseCtx)
	h := &loopHandle{
		state:     Running,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	// Shutdown cancels baseCtx before taking lk, so once it is waiting on wg no new loop can be added
	s.lk.Lock()
	if s.baseCtx.Err() != nil {
		s.lk.Unlock()
		cancel()
		return ErrShutdown
	}
	s.loops[acct] = h
	s.wg.Add(1)
	s.lk.Unlock()

	loopsRunning.Inc()
	go func() {
		defer s.wg.Done()
		defer func() {
			s.lk.Lock()
			if s.loops[acct] == h {
				delete(s.loops, acct)
			}
			s.lk.Unlock()
			loopsRunning.Dec()
			cancel()
			close(h.done)
		}()
		s.runLoop(ctx, acct)
	}()
	return nil
}

func (s *Supervisor) runLoop(ctx context.Context, acct transport.AccountID) {
	logger := s.Logger.With("account", acct)
	defer func() {
		if r := recover(); r != nil {
			loopExits.WithLabelValues("panic").Inc()
			logger.Error("publishing loop panic", "err", r)
		}
	}()

	err := s.Runner.Run(ctx, acct)
	switch {
	case err == nil:
		loopExits.WithLabelValues("done").Inc()
	case errors.Is(err, transport.ErrCredentialsInvalid):
		loopExits.WithLabelValues("credentials").Inc()
		logger.Error("account credentials rejected, publishing stopped", "err", err)
		s.notify(notify.Notice{
			Account: acct,
			Kind:    notify.KindCredentialsInvalid,
			Err:     err,
			Time:    time.Now(),
		})
	default:
		loopExits.WithLabelValues("error").Inc()
		logger.Error("publishing loop failed", "err", err)
	}
}

func (s *Supervisor) notify(n notify.Notice) {
	if s.Notifier == nil {
		return
	}
	// the triggering context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Notifier.Notify(ctx, n); err != nil {
		s.Logger.Error("failed to notify operator", "account", n.Account, "kind", n.Kind, "err", err)
	}
}

func (s *Supervisor) State(acct transport.AccountID) LoopState {
	s.lk.Lock()
	defer s.lk.Unlock()
	h, ok := s.loops[acct]
	if !ok {
		return NotRunning
	}
	return h.state
}

// Returns every tracked loop, running or stopping.
func (s *Supervisor) Snapshot() []LoopInfo {
	s.lk.Lock()
	defer s.lk.Unlock()
	out := make([]LoopInfo, 0, len(s.loops))
	for acct, h := range s.loops {
		out = append(out, LoopInfo{
			Account:   acct,
			State:     h.state,
			StartedAt: h.startedAt,
		})
	}
	return out
}

// Cancels all loops and waits for them to exit, or for ctx to end. No loops can be started afterwards.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.baseCancel()
	s.lk.Lock()
	for _, h := range s.loops {
		h.state = Stopping
	}
	s.lk.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
