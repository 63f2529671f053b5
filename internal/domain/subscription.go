package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus tracks whether a tenant's subscription may currently
// send notifications.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionSuspended SubscriptionStatus = "suspended"
)

// Subscription is the tenant boundary: every notification belongs to
// exactly one, and quota is enforced per-subscription, not per-user.
type Subscription struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Name          string
	KeyHash       string
	Status        SubscriptionStatus
	DailyLimit    int
	MonthlyLimit  int
	DailyCount    int
	MonthlyCount  int
	DailyResetAt  time.Time
	MonthResetAt  time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	IsDeleted     bool
}

func NewSubscription(userID uuid.UUID, name, keyHash string, dailyLimit, monthlyLimit int) *Subscription {
	now := time.Now().UTC()
	return &Subscription{
		ID:           uuid.New(),
		UserID:       userID,
		Name:         name,
		KeyHash:      keyHash,
		Status:       SubscriptionActive,
		DailyLimit:   dailyLimit,
		MonthlyLimit: monthlyLimit,
		DailyResetAt: nextMidnight(now),
		MonthResetAt: nextMonthBoundary(now),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionActive && !s.IsDeleted
}

// RollWindows resets the daily/monthly counters if their window has
// elapsed. Callers must hold whatever lock guards the row (a row-level
// DB lock in the transactional path); this method is pure bookkeeping.
func (s *Subscription) RollWindows(now time.Time) {
	if !now.Before(s.DailyResetAt) {
		s.DailyCount = 0
		s.DailyResetAt = nextMidnight(now)
	}
	if !now.Before(s.MonthResetAt) {
		s.MonthlyCount = 0
		s.MonthResetAt = nextMonthBoundary(now)
	}
}

// HasQuota reports whether one more notification fits within both the
// daily and monthly ceilings. A limit of 0 means unlimited.
func (s *Subscription) HasQuota() bool {
	if s.DailyLimit > 0 && s.DailyCount >= s.DailyLimit {
		return false
	}
	if s.MonthlyLimit > 0 && s.MonthlyCount >= s.MonthlyLimit {
		return false
	}
	return true
}

// ConsumeQuota increments both counters. Callers must check HasQuota
// first; this does not re-check.
func (s *Subscription) ConsumeQuota() {
	s.DailyCount++
	s.MonthlyCount++
}

func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
}

func nextMonthBoundary(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
}
