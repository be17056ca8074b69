package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/heraldhq/herald/autopost/transport"
)

var ErrNotFound = errors.New("not found")

// Recurring publishing configuration for a single account.
type PublishingJob struct {
	Account      transport.AccountID
	Payload      transport.Payload
	Interval     time.Duration
	Destinations []transport.DestinationID
	Active       bool
	UpdatedAt    time.Time
}

func (j *PublishingJob) Validate() error {
	if j.Account == "" {
		return fmt.Errorf("job account is required")
	}
	if j.Interval <= 0 {
		return fmt.Errorf("job interval must be positive")
	}
	if j.Active {
		if j.Payload.IsEmpty() {
			return fmt.Errorf("active job requires a payload")
		}
		if len(j.Destinations) == 0 {
			return fmt.Errorf("active job requires at least one destination")
		}
	}
	return nil
}

type ReplyRule struct {
	Account  transport.AccountID
	Keyword  string
	Response transport.Payload
	// extra responses; one of Response and Alternates is picked at random per reply
	Alternates []transport.Payload
}

// Response plus any non-empty alternates
func (r *ReplyRule) Responses() []transport.Payload {
	out := []transport.Payload{r.Response}
	for _, p := range r.Alternates {
		if !p.IsEmpty() {
			out = append(out, p)
		}
	}
	return out
}

// Temporary membership of an account in a destination
type MembershipLease struct {
	Account     transport.AccountID
	Destination transport.DestinationID
	JoinedAt    time.Time
}

type JobStore interface {
	// Returns ErrNotFound if the account has no job
	GetJob(ctx context.Context, acct transport.AccountID) (*PublishingJob, error)
	PutJob(ctx context.Context, job PublishingJob) error
	ListJobs(ctx context.Context) ([]PublishingJob, error)
}

type WatchStore interface {
	ListWatched(ctx context.Context, acct transport.AccountID) ([]transport.IdentityRef, error)
	AddWatched(ctx context.Context, acct transport.AccountID, ref transport.IdentityRef) error
	RemoveWatched(ctx context.Context, acct transport.AccountID, ref transport.IdentityRef) error
}

type RuleStore interface {
	// Rules are returned in keyword order
	ListRules(ctx context.Context, acct transport.AccountID) ([]ReplyRule, error)
	PutRule(ctx context.Context, rule ReplyRule) error
	DeleteRule(ctx context.Context, acct transport.AccountID, keyword string) error
}

type LeaseStore interface {
	PutLease(ctx context.Context, lease MembershipLease) error
	ListLeases(ctx context.Context) ([]MembershipLease, error)
	DeleteLease(ctx context.Context, acct transport.AccountID, dest transport.DestinationID) error
}

type Store interface {
	JobStore
	WatchStore
	RuleStore
	LeaseStore
}
