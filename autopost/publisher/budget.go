package publisher

import (
	"time"

	"github.com/heraldhq/herald/autopost/transport"

	"github.com/RussellLuo/slidingwindow"
	"github.com/puzpuzpuz/xsync/v3"
)

// Optional per-account cap on scheduled sends over a sliding hour. A nil budget, or one with PerHour <= 0, allows everything.
type SendBudget struct {
	PerHour int64

	limiters *xsync.MapOf[transport.AccountID, *slidingwindow.Limiter]
}

func NewSendBudget(perHour int64) *SendBudget {
	return &SendBudget{
		PerHour:  perHour,
		limiters: xsync.NewMapOf[transport.AccountID, *slidingwindow.Limiter](),
	}
}

func windowFunc() (slidingwindow.Window, slidingwindow.StopFunc) {
	return slidingwindow.NewLocalWindow()
}

func (b *SendBudget) limiter(acct transport.AccountID) *slidingwindow.Limiter {
	lim, _ := b.limiters.LoadOrCompute(acct, func() *slidingwindow.Limiter {
		// NOTE: unused second argument is not an 'error'
		l, _ := slidingwindow.NewLimiter(time.Hour, b.PerHour, windowFunc)
		return l
	})
	return lim
}

// Consumes one send from the account's budget, returning false if it is exhausted.
func (b *SendBudget) Allow(acct transport.AccountID) bool {
	if b == nil || b.PerHour <= 0 {
		return true
	}
	return b.limiter(acct).Allow()
}

// Gives back a send consumed by Allow which was never delivered.
func (b *SendBudget) Refund(acct transport.AccountID) {
	if b == nil || b.PerHour <= 0 {
		return
	}
	// a negative count never exceeds the limit, so AllowN always applies it
	b.limiter(acct).AllowN(time.Now(), -1)
}
