// Package memory is a map-backed implementation of the repository interfaces.
// Claim semantics match the Postgres upsert.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/internal/repository"
)

// Failures lets tests force an operation to fail. A nil entry means succeed.
type Failures struct {
	ListDue          error
	GetByPhone       error
	UpdateNextSendAt error
	SetSMSOptOut     error
	ListTracked      error
	Claim            error
	MarkClaim        error
	CreateLog        error
	ListTimezones    error
}

type Store struct {
	mu        sync.Mutex
	now       func() time.Time
	profiles  map[uuid.UUID]*model.NotificationProfile
	stocks    map[uuid.UUID][]model.TrackedStock
	claims    map[model.ClaimKey]*model.ScheduledNotification
	logs      []model.NotificationLog
	timezones []model.Timezone

	Fail Failures
}

func NewStore() *Store {
	return &Store{
		now:      time.Now,
		profiles: make(map[uuid.UUID]*model.NotificationProfile),
		stocks:   make(map[uuid.UUID][]model.TrackedStock),
		claims:   make(map[model.ClaimKey]*model.ScheduledNotification),
	}
}

// SetClock replaces the clock used for claim timestamps and lease checks.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) PutProfile(p model.NotificationProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.profiles[p.ID] = &cp
}

func (s *Store) PutStocks(userID uuid.UUID, stocks ...model.TrackedStock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stocks[userID] = append([]model.TrackedStock(nil), stocks...)
}

func (s *Store) PutTimezones(tzs ...model.Timezone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timezones = append([]model.Timezone(nil), tzs...)
}

// Profile returns a copy of the stored profile.
func (s *Store) Profile(id uuid.UUID) (model.NotificationProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return model.NotificationProfile{}, false
	}
	return *p, true
}

// Logs returns a copy of every log entry written so far.
func (s *Store) Logs() []model.NotificationLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.NotificationLog(nil), s.logs...)
}

// Claims returns a copy of every claim record.
func (s *Store) Claims() []model.ScheduledNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ScheduledNotification, 0, len(s.claims))
	for _, c := range s.claims {
		out = append(out, *c)
	}
	return out
}

// Profiles

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*model.NotificationProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) GetByPhone(_ context.Context, countryCode, number string) (*model.NotificationProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail.GetByPhone != nil {
		return nil, s.Fail.GetByPhone
	}
	var match *model.NotificationProfile
	for _, p := range s.profiles {
		if p.PhoneCountryCode == nil || p.PhoneNumber == nil {
			continue
		}
		if *p.PhoneCountryCode != countryCode || *p.PhoneNumber != number {
			continue
		}
		if match == nil || (p.PhoneVerified && !match.PhoneVerified) {
			match = p
		}
	}
	if match == nil {
		return nil, repository.ErrNotFound
	}
	cp := *match
	return &cp, nil
}

func (s *Store) ListDue(_ context.Context, ref time.Time, limit int) ([]*model.NotificationProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail.ListDue != nil {
		return nil, s.Fail.ListDue
	}
	var due []*model.NotificationProfile
	for _, p := range s.profiles {
		if p.DailyDigestEnabled && p.NextSendAt != nil && !p.NextSendAt.After(ref) {
			cp := *p
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextSendAt.Before(*due[j].NextSendAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) UpdateNextSendAt(_ context.Context, id uuid.UUID, next *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail.UpdateNextSendAt != nil {
		return s.Fail.UpdateNextSendAt
	}
	p, ok := s.profiles[id]
	if !ok {
		return repository.ErrNotFound
	}
	if next == nil {
		p.NextSendAt = nil
		return nil
	}
	t := *next
	p.NextSendAt = &t
	return nil
}

func (s *Store) SetSMSOptOut(_ context.Context, id uuid.UUID, optedOut bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail.SetSMSOptOut != nil {
		return s.Fail.SetSMSOptOut
	}
	p, ok := s.profiles[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.SMSOptedOut = optedOut
	return nil
}

// Stocks

func (s *Store) ListTracked(_ context.Context, userID uuid.UUID) ([]model.TrackedStock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail.ListTracked != nil {
		return nil, s.Fail.ListTracked
	}
	return append([]model.TrackedStock{}, s.stocks[userID]...), nil
}

// Claims

func (s *Store) Claim(_ context.Context, key model.ClaimKey, maxAttempts int, lease time.Duration) (*model.ScheduledNotification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail.Claim != nil {
		return nil, false, s.Fail.Claim
	}
	now := s.now()

	existing, ok := s.claims[key]
	if !ok {
		c := &model.ScheduledNotification{
			ID:           uuid.New(),
			ClaimKey:     key,
			Status:       model.ClaimStatusPending,
			AttemptCount: 1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		s.claims[key] = c
		cp := *c
		return &cp, true, nil
	}

	rearm := existing.AttemptCount < maxAttempts &&
		(existing.Status == model.ClaimStatusFailed ||
			(existing.Status == model.ClaimStatusPending && existing.UpdatedAt.Before(now.Add(-lease))))
	if rearm {
		existing.AttemptCount++
		existing.Status = model.ClaimStatusPending
		existing.UpdatedAt = now
	}
	cp := *existing
	return &cp, rearm, nil
}

func (s *Store) Get(_ context.Context, key model.ClaimKey) (*model.ScheduledNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) MarkSent(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail.MarkClaim != nil {
		return s.Fail.MarkClaim
	}
	c := s.claimByID(id)
	if c == nil {
		return repository.ErrNotFound
	}
	now := s.now()
	c.Status = model.ClaimStatusSent
	c.SentAt = &now
	c.Error = nil
	c.UpdatedAt = now
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail.MarkClaim != nil {
		return s.Fail.MarkClaim
	}
	c := s.claimByID(id)
	if c == nil || c.Status == model.ClaimStatusSent {
		return repository.ErrNotFound
	}
	c.Status = model.ClaimStatusFailed
	c.Error = &reason
	c.UpdatedAt = s.now()
	return nil
}

func (s *Store) claimByID(id uuid.UUID) *model.ScheduledNotification {
	for _, c := range s.claims {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Log

func (s *Store) Create(_ context.Context, entry *model.NotificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail.CreateLog != nil {
		return s.Fail.CreateLog
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.logs = append(s.logs, *entry)
	return nil
}

// Timezones

func (s *Store) ListActive(_ context.Context) ([]model.Timezone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail.ListTimezones != nil {
		return nil, s.Fail.ListTimezones
	}
	var out []model.Timezone
	for _, tz := range s.timezones {
		if tz.Active {
			out = append(out, tz)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out, nil
}

var (
	_ repository.ProfileRepository         = (*Store)(nil)
	_ repository.StockRepository           = (*Store)(nil)
	_ repository.ClaimRepository           = (*Store)(nil)
	_ repository.NotificationLogRepository = (*Store)(nil)
	_ repository.TimezoneRepository        = (*Store)(nil)
)
