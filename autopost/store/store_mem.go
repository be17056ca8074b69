package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/heraldhq/herald/autopost/transport"
)

type leaseKey struct {
	acct transport.AccountID
	dest transport.DestinationID
}

// In-process Store, for tests and single-node development.
type MemStore struct {
	mu      sync.RWMutex
	jobs    map[transport.AccountID]PublishingJob
	watched map[transport.AccountID][]transport.IdentityRef
	rules   map[transport.AccountID]map[string]ReplyRule
	leases  map[leaseKey]MembershipLease
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		jobs:    make(map[transport.AccountID]PublishingJob),
		watched: make(map[transport.AccountID][]transport.IdentityRef),
		rules:   make(map[transport.AccountID]map[string]ReplyRule),
		leases:  make(map[leaseKey]MembershipLease),
	}
}

func (s *MemStore) GetJob(ctx context.Context, acct transport.AccountID) (*PublishingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[acct]
	if !ok {
		return nil, ErrNotFound
	}
	job.Destinations = slices.Clone(job.Destinations)
	return &job, nil
}

func (s *MemStore) PutJob(ctx context.Context, job PublishingJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Destinations = slices.Clone(job.Destinations)
	s.jobs[job.Account] = job
	return nil
}

func (s *MemStore) ListJobs(ctx context.Context) ([]PublishingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PublishingJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		job.Destinations = slices.Clone(job.Destinations)
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out, nil
}

func (s *MemStore) ListWatched(ctx context.Context, acct transport.AccountID) ([]transport.IdentityRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.watched[acct]), nil
}

func (s *MemStore) AddWatched(ctx context.Context, acct transport.AccountID, ref transport.IdentityRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.watched[acct], ref) {
		return nil
	}
	s.watched[acct] = append(s.watched[acct], ref)
	return nil
}

func (s *MemStore) RemoveWatched(ctx context.Context, acct transport.AccountID, ref transport.IdentityRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watched[acct] = slices.DeleteFunc(s.watched[acct], func(r transport.IdentityRef) bool { return r == ref })
	return nil
}

func (s *MemStore) ListRules(ctx context.Context, acct transport.AccountID) ([]ReplyRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ReplyRule, 0, len(s.rules[acct]))
	for _, r := range s.rules[acct] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Keyword < out[j].Keyword })
	return out, nil
}

func (s *MemStore) PutRule(ctx context.Context, rule ReplyRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rules[rule.Account]
	if !ok {
		m = make(map[string]ReplyRule)
		s.rules[rule.Account] = m
	}
	m[rule.Keyword] = rule
	return nil
}

func (s *MemStore) DeleteRule(ctx context.Context, acct transport.AccountID, keyword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules[acct], keyword)
	return nil
}

func (s *MemStore) PutLease(ctx context.Context, lease MembershipLease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leases[leaseKey{lease.Account, lease.Destination}] = lease
	return nil
}

func (s *MemStore) ListLeases(ctx context.Context) ([]MembershipLease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MembershipLease, 0, len(s.leases))
	for _, l := range s.leases {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *MemStore) DeleteLease(ctx context.Context, acct transport.AccountID, dest transport.DestinationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, leaseKey{acct, dest})
	return nil
}
