package replies

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/heraldhq/herald/autopost/cooldown"
	"github.com/heraldhq/herald/autopost/keyword"
	"github.com/heraldhq/herald/autopost/store"
	"github.com/heraldhq/herald/autopost/transport"
)

// Answers inbound messages which mention a keyword of one of the account's reply rules.
type Responder struct {
	Rules     store.RuleStore
	Gate      cooldown.Gate
	Transport transport.Transport
	Hours     WorkingHours
	Logger    *slog.Logger
	// pause between the typing action and the reply; zero replies immediately
	Delay time.Duration

	// overridable for tests
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
	// returns an index in [0, n)
	Pick func(n int) int
}

func NewResponder(rules store.RuleStore, gate cooldown.Gate, tr transport.Transport, hours WorkingHours, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		Rules:     rules,
		Gate:      gate,
		Transport: tr,
		Hours:     hours,
		Logger:    logger,
		Now:       time.Now,
		Sleep:     sleepContext,
		Pick:      rand.IntN,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sends at most one automated reply for the message. Rules are tried in keyword order; the first rule that matches and passes the cooldown gate fires. Returns the keyword which fired, or "".
//
// If the reply is not delivered the cooldown entry is released again.
func (r *Responder) HandleMessage(ctx context.Context, evt *transport.MessageEvent) (string, error) {
	if evt.Outgoing || evt.Text == "" {
		return "", nil
	}
	if !r.Hours.Contains(r.Now()) {
		return "", nil
	}
	rules, err := r.Rules.ListRules(ctx, evt.Account)
	if err != nil {
		return "", err
	}
	if len(rules) == 0 {
		return "", nil
	}

	keywords := make([]string, 0, len(rules))
	for _, rule := range rules {
		keywords = append(keywords, rule.Keyword)
	}
	matched := make(map[string]bool)
	for _, kw := range keyword.NewMatcher(keywords).Match(evt.Text) {
		matched[kw] = true
	}

	for _, rule := range rules {
		if !matched[rule.Keyword] {
			continue
		}
		ok, err := r.Gate.ShouldFire(ctx, evt.Destination, evt.Sender, rule.Keyword)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		logger := r.Logger.With("account", evt.Account, "destination", evt.Destination, "keyword", rule.Keyword)
		if err := r.deliver(ctx, evt, &rule); err != nil {
			replyErrors.Inc()
			logger.Warn("failed to send automated reply", "err", err)
			// the entry was only claimed for this reply
			if rerr := r.Gate.Release(context.WithoutCancel(ctx), evt.Destination, evt.Sender, rule.Keyword); rerr != nil {
				logger.Error("failed to release cooldown entry", "err", rerr)
			}
			return "", err
		}
		repliesSent.Inc()
		logger.Info("sent automated reply", "sender", evt.Sender)
		return rule.Keyword, nil
	}
	return "", nil
}

func (r *Responder) deliver(ctx context.Context, evt *transport.MessageEvent, rule *store.ReplyRule) error {
	if r.Delay > 0 {
		if ti, ok := r.Transport.(transport.TypingIndicator); ok {
			// typing is cosmetic; a failure does not hold back the reply
			if err := ti.Typing(ctx, evt.Account, evt.Destination); err != nil {
				r.Logger.Warn("failed to show typing action", "account", evt.Account, "destination", evt.Destination, "err", err)
			}
		}
		if err := r.Sleep(ctx, r.Delay); err != nil {
			return err
		}
	}
	responses := rule.Responses()
	payload := responses[0]
	if len(responses) > 1 {
		payload = responses[r.Pick(len(responses))]
	}
	_, err := r.Transport.Send(ctx, evt.Account, evt.Destination, payload, evt.MessageID)
	return err
}
