package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/heraldhq/herald/autopost/freeze"
	"github.com/heraldhq/herald/autopost/refstore"
	"github.com/heraldhq/herald/autopost/store"
	"github.com/heraldhq/herald/autopost/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInterval = time.Hour

// Radar stand-in which reports danger according to a callback
type scriptedRadar struct {
	mu     sync.Mutex
	calls  int
	danger func() bool
}

func (r *scriptedRadar) IsDangerous(ctx context.Context, acct transport.AccountID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.danger()
}

// Records every wait, and ends the run after a fixed number of cycles
type fakeSleeper struct {
	mu        sync.Mutex
	waits     []time.Duration
	cycles    int
	maxCycles int
	cancel    context.CancelFunc
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	if d == testInterval {
		s.cycles++
		if s.cycles >= s.maxCycles {
			s.cancel()
		}
	}
	return ctx.Err()
}

func (s *fakeSleeper) Cycle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

type loopFixture struct {
	loop    *Loop
	jobs    *store.MemStore
	ledger  *freeze.MemLedger
	refs    refstore.MemRefStore
	tr      *transport.MockTransport
	radar   *scriptedRadar
	sleeper *fakeSleeper
	ctx     context.Context
}

func newLoopFixture(t *testing.T, maxCycles int, dests ...transport.DestinationID) *loopFixture {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	jobs := store.NewMemStore()
	require.NoError(t, jobs.PutJob(ctx, store.PublishingJob{
		Account:      "acctA",
		Payload:      transport.Payload{Text: "daily deals"},
		Interval:     testInterval,
		Destinations: dests,
		Active:       true,
	}))

	f := &loopFixture{
		jobs:    jobs,
		ledger:  freeze.NewMemLedger(),
		refs:    refstore.NewMemRefStore(100, time.Hour),
		tr:      transport.NewMockTransport(),
		radar:   &scriptedRadar{danger: func() bool { return false }},
		sleeper: &fakeSleeper{maxCycles: maxCycles, cancel: cancel},
		ctx:     ctx,
	}
	f.loop = NewLoop(f.jobs, f.ledger, f.radar, f.refs, f.tr, DefaultLoopConfig(), nil)
	f.loop.Sleep = f.sleeper.Sleep
	return f
}

func TestLoopDangerScenario(t *testing.T) {
	assert := assert.New(t)
	f := newLoopFixture(t, 3, "X", "Y")
	// danger only during the second cycle
	f.radar.danger = func() bool { return f.sleeper.cycles == 1 }

	assert.NoError(f.loop.Run(f.ctx, "acctA"))

	sent := f.tr.Sent
	require.Len(t, sent, 4)
	assert.Equal(transport.DestinationID("X"), sent[0].Destination)
	assert.Equal(transport.DestinationID("Y"), sent[1].Destination)
	assert.Equal(transport.DestinationID("X"), sent[2].Destination)
	assert.Equal(transport.DestinationID("Y"), sent[3].Destination)

	// cycle 2 retracted both cycle 1 messages
	assert.Equal([]transport.MessageID{sent[0].ID, sent[1].ID}, f.tr.DeletedIDs())

	// refs now point at cycle 3 messages
	ref, _ := f.refs.Get(f.ctx, "acctA", "X")
	assert.Equal(sent[2].ID, ref)

	assert.Contains(f.sleeper.waits, DefaultDangerCooldown)
	assert.Contains(f.sleeper.waits, DefaultInterSendDelay)
}

func TestLoopFrozenDestinationNeverSent(t *testing.T) {
	for _, danger := range []bool{false, true} {
		t.Run(fmt.Sprintf("danger=%v", danger), func(t *testing.T) {
			assert := assert.New(t)
			f := newLoopFixture(t, 2, "X", "Y")
			f.radar.danger = func() bool { return danger }
			_, err := f.ledger.Freeze(f.ctx, "acctA", "X", "mod1", time.Now())
			require.NoError(t, err)

			assert.NoError(f.loop.Run(f.ctx, "acctA"))
			assert.Empty(f.tr.SentTo("X"))
			if danger {
				assert.Empty(f.tr.SentTo("Y"))
			} else {
				assert.Len(f.tr.SentTo("Y"), 2)
			}
		})
	}
}

func TestLoopRateLimitWaitsExactly(t *testing.T) {
	assert := assert.New(t)
	f := newLoopFixture(t, 1, "X", "Y")
	f.tr.QueueSendError("X", &transport.RateLimitError{Wait: 37 * time.Second})

	assert.NoError(f.loop.Run(f.ctx, "acctA"))
	assert.Len(f.tr.SentTo("X"), 1)
	assert.Len(f.tr.SentTo("Y"), 1)
	assert.Equal(37*time.Second, f.sleeper.waits[0])
}

func TestLoopRateLimitGivesUp(t *testing.T) {
	assert := assert.New(t)
	f := newLoopFixture(t, 1, "X", "Y")
	for i := 0; i < DefaultMaxRateLimitRetries+1; i++ {
		f.tr.QueueSendError("X", &transport.RateLimitError{Wait: time.Second})
	}

	assert.NoError(f.loop.Run(f.ctx, "acctA"))
	assert.Empty(f.tr.SentTo("X"))
	assert.Len(f.tr.SentTo("Y"), 1)
}

func TestLoopSendErrorDoesNotAbortCycle(t *testing.T) {
	assert := assert.New(t)
	f := newLoopFixture(t, 1, "X", "Y", "Z")
	f.tr.QueueSendError("Y", errors.New("chat write forbidden"))

	assert.NoError(f.loop.Run(f.ctx, "acctA"))
	assert.Len(f.tr.SentTo("X"), 1)
	assert.Empty(f.tr.SentTo("Y"))
	assert.Len(f.tr.SentTo("Z"), 1)
}

func TestLoopCredentialsInvalid(t *testing.T) {
	assert := assert.New(t)
	f := newLoopFixture(t, 5, "X", "Y")
	f.tr.QueueSendError("X", fmt.Errorf("send: %w", transport.ErrCredentialsInvalid))

	err := f.loop.Run(f.ctx, "acctA")
	assert.ErrorIs(err, transport.ErrCredentialsInvalid)
	assert.Equal(0, f.tr.SentCount())
}

func TestLoopStopsWhenDeactivated(t *testing.T) {
	assert := assert.New(t)
	f := newLoopFixture(t, 10, "X")

	f.loop.Sleep = func(ctx context.Context, d time.Duration) error {
		if d == testInterval {
			job, err := f.jobs.GetJob(ctx, "acctA")
			require.NoError(t, err)
			job.Active = false
			require.NoError(t, f.jobs.PutJob(ctx, *job))
		}
		return nil
	}

	assert.NoError(f.loop.Run(f.ctx, "acctA"))
	assert.Equal(1, f.tr.SentCount())
}

func TestLoopMissingJob(t *testing.T) {
	f := newLoopFixture(t, 1, "X")
	assert.NoError(t, f.loop.Run(f.ctx, "nobody"))
	assert.Equal(t, 0, f.tr.SentCount())
}

func TestLoopCancelledMidCycle(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	f := newLoopFixture(t, 10, "X", "Y")
	f.loop.Sleep = func(ctx context.Context, d time.Duration) error {
		// cancelled during the first inter-send delay
		cancel()
		return ctx.Err()
	}

	assert.NoError(f.loop.Run(ctx, "acctA"))
	assert.Len(f.tr.SentTo("X"), 1)
	assert.Empty(f.tr.SentTo("Y"))
}

func TestSleepContext(t *testing.T) {
	assert := assert.New(t)
	assert.NoError(SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(SleepContext(ctx, time.Hour), context.Canceled)
}

func TestLoopSendBudget(t *testing.T) {
	assert := assert.New(t)
	f := newLoopFixture(t, 2, "X", "Y", "Z")
	f.loop.Budget = NewSendBudget(2)

	assert.NoError(f.loop.Run(f.ctx, "acctA"))
	// budget spans cycles; the second cycle sends nothing
	assert.Equal(2, f.tr.SentCount())
	assert.Len(f.tr.SentTo("X"), 1)
	assert.Len(f.tr.SentTo("Y"), 1)
	assert.Empty(f.tr.SentTo("Z"))

	var nilBudget *SendBudget
	assert.True(nilBudget.Allow("acctA"))
	nilBudget.Refund("acctA")
}

func TestLoopSendBudgetFailedSend(t *testing.T) {
	assert := assert.New(t)
	f := newLoopFixture(t, 2, "X", "Y", "Z")
	f.loop.Budget = NewSendBudget(2)
	f.tr.QueueSendError("X", errors.New("slow mode"))

	assert.NoError(f.loop.Run(f.ctx, "acctA"))
	// the failed send to X does not count against the budget
	assert.Empty(f.tr.SentTo("X"))
	assert.Len(f.tr.SentTo("Y"), 1)
	assert.Len(f.tr.SentTo("Z"), 1)
	assert.Equal(2, f.tr.SentCount())
}

func TestSendBudgetRefund(t *testing.T) {
	assert := assert.New(t)
	b := NewSendBudget(1)

	assert.True(b.Allow("acctA"))
	assert.False(b.Allow("acctA"))
	// accounts are independent
	assert.True(b.Allow("acctB"))

	b.Refund("acctA")
	assert.True(b.Allow("acctA"))
	assert.False(b.Allow("acctA"))
}
