package autopost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/heraldhq/herald/autopost/freeze"
	"github.com/heraldhq/herald/autopost/replies"
	"github.com/heraldhq/herald/autopost/transport"
)

// Dispatches inbound message events to the freeze hooks and the reply responder.
//
// When the responder has a reply delay, replies run in their own goroutine so a slow reply does not hold up the event feed.
type Engine struct {
	Logger  *slog.Logger
	Freeze  *freeze.Hooks
	Replies *replies.Responder

	pending sync.WaitGroup
}

// Blocks until all in-flight delayed replies have finished.
func (eng *Engine) Wait() {
	eng.pending.Wait()
}

func (eng *Engine) ProcessMessage(ctx context.Context, evt *transport.MessageEvent) (err error) {
	// similar to an HTTP server, recover panics from event handling
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("message event handling exception", "err", r, "account", evt.Account, "destination", evt.Destination)
			err = fmt.Errorf("panic handling message event: %v", r)
		}
	}()

	if err := evt.Validate(); err != nil {
		eventErrorCount.WithLabelValues("invalid").Inc()
		return err
	}
	direction := "incoming"
	if evt.Outgoing {
		direction = "outgoing"
	}
	start := time.Now()
	defer func() {
		eventProcessDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds())
		eventProcessCount.WithLabelValues(direction).Inc()
	}()

	var errs []error
	if evt.Outgoing {
		if eng.Freeze != nil {
			if err := eng.Freeze.HandleOutgoing(ctx, evt); err != nil {
				errs = append(errs, fmt.Errorf("unfreeze hook: %w", err))
			}
		}
	} else {
		if eng.Freeze != nil {
			if err := eng.Freeze.HandleIncoming(ctx, evt); err != nil {
				errs = append(errs, fmt.Errorf("freeze hook: %w", err))
			}
		}
		if eng.Replies != nil && eng.Replies.Delay > 0 {
			eng.pending.Add(1)
			go eng.replyAsync(ctx, evt)
		} else if eng.Replies != nil {
			if _, err := eng.Replies.HandleMessage(ctx, evt); err != nil {
				errs = append(errs, fmt.Errorf("auto reply: %w", err))
			}
		}
	}
	if len(errs) > 0 {
		eventErrorCount.WithLabelValues(direction).Inc()
	}
	return errors.Join(errs...)
}

func (eng *Engine) replyAsync(ctx context.Context, evt *transport.MessageEvent) {
	defer eng.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("auto reply exception", "err", r, "account", evt.Account, "destination", evt.Destination)
		}
	}()
	if _, err := eng.Replies.HandleMessage(ctx, evt); err != nil {
		eventErrorCount.WithLabelValues("reply").Inc()
		eng.Logger.Warn("delayed auto reply failed", "account", evt.Account, "destination", evt.Destination, "err", err)
	}
}
