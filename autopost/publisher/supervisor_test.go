package publisher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heraldhq/herald/autopost/freeze"
	"github.com/heraldhq/herald/autopost/notify"
	"github.com/heraldhq/herald/autopost/refstore"
	"github.com/heraldhq/herald/autopost/store"
	"github.com/heraldhq/herald/autopost/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runner which blocks until cancelled, tracking concurrency per account
type countingRunner struct {
	active    sync.Map
	maxActive atomic.Int64
	starts    atomic.Int64
	// when set, the first Run ignores cancellation until stuck is closed
	stuck      chan struct{}
	stuckTaken atomic.Bool
	result     error
	running    atomic.Int64
	// time taken to return after cancellation
	unwind time.Duration
}

func (r *countingRunner) Run(ctx context.Context, acct transport.AccountID) error {
	v, _ := r.active.LoadOrStore(acct, &atomic.Int64{})
	n := v.(*atomic.Int64).Add(1)
	defer v.(*atomic.Int64).Add(-1)
	for {
		cur := r.maxActive.Load()
		if n <= cur || r.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	r.starts.Add(1)
	r.running.Add(1)
	defer r.running.Add(-1)

	if r.result != nil {
		return r.result
	}
	if r.stuck != nil && r.stuckTaken.CompareAndSwap(false, true) {
		<-r.stuck
		return nil
	}
	<-ctx.Done()
	// simulate unwinding work
	if r.unwind > 0 {
		time.Sleep(r.unwind)
	} else {
		time.Sleep(time.Millisecond)
	}
	return nil
}

// JobStore which runs a hook before each GetJob
type hookedJobs struct {
	store.JobStore
	beforeGet func()
}

func (h *hookedJobs) GetJob(ctx context.Context, acct transport.AccountID) (*store.PublishingJob, error) {
	if h.beforeGet != nil {
		h.beforeGet()
	}
	return h.JobStore.GetJob(ctx, acct)
}

func activeJob(acct transport.AccountID) store.PublishingJob {
	return store.PublishingJob{
		Account:      acct,
		Payload:      transport.Payload{Text: "hello"},
		Interval:     time.Minute,
		Destinations: []transport.DestinationID{"grp"},
		Active:       true,
	}
}

func TestSupervisorRapidReconfigure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	jobs := store.NewMemStore()
	require.NoError(t, jobs.PutJob(ctx, activeJob("acct1")))
	require.NoError(t, jobs.PutJob(ctx, activeJob("acct2")))
	runner := &countingRunner{}
	sup := NewSupervisor(jobs, runner, nil, nil)
	defer sup.Shutdown(ctx)

	var wg sync.WaitGroup
	var maxTracked atomic.Int64
	for i := 0; i < 40; i++ {
		wg.Add(1)
		acct := transport.AccountID(fmt.Sprintf("acct%d", i%2+1))
		go func() {
			defer wg.Done()
			assert.NoError(sup.Reconfigure(ctx, acct))
			counts := map[transport.AccountID]int64{}
			for _, info := range sup.Snapshot() {
				counts[info.Account]++
			}
			for _, c := range counts {
				if c > maxTracked.Load() {
					maxTracked.Store(c)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(int64(1), runner.maxActive.Load())
	assert.Equal(int64(1), maxTracked.Load())
	assert.Equal(int64(40), runner.starts.Load())
	assert.Equal(Running, sup.State("acct1"))
	assert.Equal(Running, sup.State("acct2"))
	assert.Len(sup.Snapshot(), 2)
	assert.Equal(int64(2), runner.running.Load())
}

func TestSupervisorDeactivate(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	jobs := store.NewMemStore()
	job := activeJob("acct1")
	require.NoError(t, jobs.PutJob(ctx, job))
	runner := &countingRunner{}
	sup := NewSupervisor(jobs, runner, nil, nil)
	defer sup.Shutdown(ctx)

	assert.NoError(sup.Reconfigure(ctx, "acct1"))
	assert.Equal(Running, sup.State("acct1"))

	job.Active = false
	require.NoError(t, jobs.PutJob(ctx, job))
	assert.NoError(sup.Reconfigure(ctx, "acct1"))
	assert.Equal(NotRunning, sup.State("acct1"))
	assert.Equal(int64(0), runner.running.Load())

	// unknown account is a no-op
	assert.NoError(sup.Reconfigure(ctx, "acct9"))
	assert.Equal(NotRunning, sup.State("acct9"))
}

func TestSupervisorCredentialsInvalidNotifies(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	jobs := store.NewMemStore()
	require.NoError(t, jobs.PutJob(ctx, activeJob("acct1")))
	notifier := &notify.MockNotifier{}
	runner := &countingRunner{result: transport.ErrCredentialsInvalid}
	sup := NewSupervisor(jobs, runner, notifier, nil)
	defer sup.Shutdown(ctx)

	assert.NoError(sup.Reconfigure(ctx, "acct1"))
	require.Eventually(t, func() bool {
		return len(notifier.OfKind(notify.KindCredentialsInvalid)) == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return sup.State("acct1") == NotRunning
	}, time.Second, 5*time.Millisecond)
	assert.Equal(int64(1), runner.starts.Load())
}

func TestSupervisorStopTimeout(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	jobs := store.NewMemStore()
	require.NoError(t, jobs.PutJob(ctx, activeJob("acct1")))
	notifier := &notify.MockNotifier{}
	runner := &countingRunner{stuck: make(chan struct{})}
	sup := NewSupervisor(jobs, runner, notifier, nil)
	sup.StopTimeout = 20 * time.Millisecond

	assert.NoError(sup.Reconfigure(ctx, "acct1"))
	err := sup.Reconfigure(ctx, "acct1")
	assert.ErrorIs(err, ErrStopTimeout)
	assert.Equal(Stopping, sup.State("acct1"))
	assert.Len(notifier.OfKind(notify.KindLoopStuck), 1)
	assert.Equal(int64(1), runner.starts.Load())

	// once the stuck loop finally exits, a replacement can start
	close(runner.stuck)
	require.Eventually(t, func() bool {
		return sup.State("acct1") == NotRunning
	}, time.Second, 5*time.Millisecond)
	assert.NoError(sup.Reconfigure(ctx, "acct1"))
	assert.Equal(Running, sup.State("acct1"))
	assert.NoError(sup.Shutdown(ctx))
}

func TestSupervisorCallerCancelDuringStop(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	jobs := store.NewMemStore()
	require.NoError(t, jobs.PutJob(ctx, activeJob("acct1")))
	runner := &countingRunner{unwind: 50 * time.Millisecond}
	sup := NewSupervisor(jobs, runner, nil, nil)
	defer sup.Shutdown(ctx)

	assert.NoError(sup.Reconfigure(ctx, "acct1"))

	// the caller gives up long before the old loop has unwound
	shortCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.NoError(sup.Reconfigure(shortCtx, "acct1"))
	assert.Error(shortCtx.Err())
	assert.Equal(Running, sup.State("acct1"))
	assert.Equal(int64(2), runner.starts.Load())
	assert.Equal(int64(1), runner.maxActive.Load())
}

func TestSupervisorShutdownDuringReconfigure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	mem := store.NewMemStore()
	require.NoError(t, mem.PutJob(ctx, activeJob("acct1")))
	jobs := &hookedJobs{JobStore: mem}
	runner := &countingRunner{}
	sup := NewSupervisor(jobs, runner, nil, nil)

	shutdownErr := make(chan error, 1)
	jobs.beforeGet = func() {
		go func() {
			shutdownErr <- sup.Shutdown(ctx)
		}()
		require.Eventually(t, func() bool {
			return sup.baseCtx.Err() != nil
		}, time.Second, time.Millisecond)
	}

	assert.ErrorIs(sup.Reconfigure(ctx, "acct1"), ErrShutdown)
	assert.NoError(<-shutdownErr)
	assert.Empty(sup.Snapshot())
	assert.Equal(int64(0), runner.starts.Load())
}

func TestSupervisorShutdown(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	jobs := store.NewMemStore()
	require.NoError(t, jobs.PutJob(ctx, activeJob("acct1")))
	require.NoError(t, jobs.PutJob(ctx, activeJob("acct2")))
	runner := &countingRunner{}
	sup := NewSupervisor(jobs, runner, nil, nil)

	assert.NoError(sup.ReconfigureAll(ctx))
	assert.Len(sup.Snapshot(), 2)

	assert.NoError(sup.Shutdown(ctx))
	assert.Empty(sup.Snapshot())
	assert.Equal(int64(0), runner.running.Load())
	assert.ErrorIs(sup.Reconfigure(ctx, "acct1"), ErrShutdown)
}

func TestSupervisorWithLoop(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	jobs := store.NewMemStore()
	job := activeJob("acct1")
	job.Interval = 5 * time.Millisecond
	job.Destinations = []transport.DestinationID{"X", "Y"}
	require.NoError(t, jobs.PutJob(ctx, job))

	tr := transport.NewMockTransport()
	cfg := LoopConfig{MaxRateLimitRetries: 1}
	loop := NewLoop(jobs, freeze.NewMemLedger(), &scriptedRadar{danger: func() bool { return false }}, refstore.NewMemRefStore(10, time.Hour), tr, cfg, nil)
	sup := NewSupervisor(jobs, loop, nil, nil)
	defer sup.Shutdown(ctx)

	assert.NoError(sup.Reconfigure(ctx, "acct1"))
	require.Eventually(t, func() bool {
		return tr.SentCount() >= 4
	}, 2*time.Second, 5*time.Millisecond)

	job.Active = false
	require.NoError(t, jobs.PutJob(ctx, job))
	assert.NoError(sup.Reconfigure(ctx, "acct1"))
	assert.Equal(NotRunning, sup.State("acct1"))

	// nothing more is sent once stopped
	sent := tr.SentCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(sent, tr.SentCount())
}
