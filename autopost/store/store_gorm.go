package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/heraldhq/herald/autopost/transport"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type dbJob struct {
	Account        string `gorm:"primaryKey"`
	PayloadText    string
	IntervalMillis int64
	Destinations   []string `gorm:"serializer:json"`
	Active         bool     `gorm:"index"`
	UpdatedAt      time.Time
}

func (dbJob) TableName() string { return "publishing_jobs" }

type dbWatched struct {
	Account   string `gorm:"primaryKey"`
	Ref       string `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (dbWatched) TableName() string { return "watched_identities" }

type dbRule struct {
	Account      string `gorm:"primaryKey"`
	Keyword      string `gorm:"primaryKey"`
	ResponseText string
	Alternates   []string `gorm:"serializer:json"`
}

func (dbRule) TableName() string { return "reply_rules" }

type dbLease struct {
	Account     string    `gorm:"primaryKey"`
	Destination string    `gorm:"primaryKey"`
	JoinedAt    time.Time `gorm:"index"`
}

func (dbLease) TableName() string { return "membership_leases" }

// Store backed by a SQL database (sqlite or postgres) via gorm.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// Wraps an open database handle, creating or migrating tables as needed.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&dbJob{}, &dbWatched{}, &dbRule{}, &dbLease{}); err != nil {
		return nil, fmt.Errorf("migrating store tables: %w", err)
	}
	return &GormStore{db: db}, nil
}

func jobFromRow(row *dbJob) *PublishingJob {
	dests := make([]transport.DestinationID, 0, len(row.Destinations))
	for _, d := range row.Destinations {
		dests = append(dests, transport.DestinationID(d))
	}
	return &PublishingJob{
		Account:      transport.AccountID(row.Account),
		Payload:      transport.Payload{Text: row.PayloadText},
		Interval:     time.Duration(row.IntervalMillis) * time.Millisecond,
		Destinations: dests,
		Active:       row.Active,
		UpdatedAt:    row.UpdatedAt,
	}
}

func (s *GormStore) GetJob(ctx context.Context, acct transport.AccountID) (*PublishingJob, error) {
	var row dbJob
	err := s.db.WithContext(ctx).First(&row, "account = ?", string(acct)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobFromRow(&row), nil
}

func (s *GormStore) PutJob(ctx context.Context, job PublishingJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	dests := make([]string, 0, len(job.Destinations))
	for _, d := range job.Destinations {
		dests = append(dests, string(d))
	}
	row := dbJob{
		Account:        string(job.Account),
		PayloadText:    job.Payload.Text,
		IntervalMillis: job.Interval.Milliseconds(),
		Destinations:   dests,
		Active:         job.Active,
		UpdatedAt:      job.UpdatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *GormStore) ListJobs(ctx context.Context) ([]PublishingJob, error) {
	var rows []dbJob
	if err := s.db.WithContext(ctx).Order("account").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]PublishingJob, 0, len(rows))
	for i := range rows {
		out = append(out, *jobFromRow(&rows[i]))
	}
	return out, nil
}

func (s *GormStore) ListWatched(ctx context.Context, acct transport.AccountID) ([]transport.IdentityRef, error) {
	var rows []dbWatched
	if err := s.db.WithContext(ctx).Where("account = ?", string(acct)).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]transport.IdentityRef, 0, len(rows))
	for _, r := range rows {
		out = append(out, transport.IdentityRef(r.Ref))
	}
	return out, nil
}

func (s *GormStore) AddWatched(ctx context.Context, acct transport.AccountID, ref transport.IdentityRef) error {
	row := dbWatched{
		Account:   string(acct),
		Ref:       string(ref),
		CreatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (s *GormStore) RemoveWatched(ctx context.Context, acct transport.AccountID, ref transport.IdentityRef) error {
	return s.db.WithContext(ctx).Delete(&dbWatched{}, "account = ? AND ref = ?", string(acct), string(ref)).Error
}

func (s *GormStore) ListRules(ctx context.Context, acct transport.AccountID) ([]ReplyRule, error) {
	var rows []dbRule
	if err := s.db.WithContext(ctx).Where("account = ?", string(acct)).Order("keyword").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ReplyRule, 0, len(rows))
	for _, r := range rows {
		out = append(out, ReplyRule{
			Account:    transport.AccountID(r.Account),
			Keyword:    r.Keyword,
			Response:   transport.Payload{Text: r.ResponseText},
			Alternates: payloadsFromTexts(r.Alternates),
		})
	}
	return out, nil
}

func (s *GormStore) PutRule(ctx context.Context, rule ReplyRule) error {
	row := dbRule{
		Account:      string(rule.Account),
		Keyword:      rule.Keyword,
		ResponseText: rule.Response.Text,
		Alternates:   textsFromPayloads(rule.Alternates),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *GormStore) DeleteRule(ctx context.Context, acct transport.AccountID, keyword string) error {
	return s.db.WithContext(ctx).Delete(&dbRule{}, "account = ? AND keyword = ?", string(acct), keyword).Error
}

func (s *GormStore) PutLease(ctx context.Context, lease MembershipLease) error {
	row := dbLease{
		Account:     string(lease.Account),
		Destination: string(lease.Destination),
		JoinedAt:    lease.JoinedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *GormStore) ListLeases(ctx context.Context) ([]MembershipLease, error) {
	var rows []dbLease
	if err := s.db.WithContext(ctx).Order("joined_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]MembershipLease, 0, len(rows))
	for _, r := range rows {
		out = append(out, MembershipLease{
			Account:     transport.AccountID(r.Account),
			Destination: transport.DestinationID(r.Destination),
			JoinedAt:    r.JoinedAt,
		})
	}
	return out, nil
}

func (s *GormStore) DeleteLease(ctx context.Context, acct transport.AccountID, dest transport.DestinationID) error {
	return s.db.WithContext(ctx).Delete(&dbLease{}, "account = ? AND destination = ?", string(acct), string(dest)).Error
}

func textsFromPayloads(ps []transport.Payload) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Text)
	}
	return out
}

func payloadsFromTexts(texts []string) []transport.Payload {
	if len(texts) == 0 {
		return nil
	}
	out := make([]transport.Payload, 0, len(texts))
	for _, t := range texts {
		out = append(out, transport.Payload{Text: t})
	}
	return out
}
