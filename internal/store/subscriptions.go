package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dispatchctl/notifyd/internal/domain"
)

// SubscriptionRepository backs the tenant/quota model. GetByIDForUpdate
// takes a row lock so the Intake Service's quota check-and-increment
// (SPEC_FULL.md §5.5) is atomic under concurrent intake for the same
// subscription.
type SubscriptionRepository struct {
	q Querier
}

func NewSubscriptionRepository(q Querier) *SubscriptionRepository {
	return &SubscriptionRepository{q: q}
}

func (r *SubscriptionRepository) Create(ctx context.Context, s *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, user_id, name, key_hash, status, daily_limit, monthly_limit,
			daily_count, monthly_count, daily_reset_at, month_reset_at,
			created_at, updated_at, is_deleted
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`
	_, err := r.q.Exec(ctx, query,
		s.ID, s.UserID, s.Name, s.KeyHash, s.Status, s.DailyLimit, s.MonthlyLimit,
		s.DailyCount, s.MonthlyCount, s.DailyResetAt, s.MonthResetAt,
		s.CreatedAt, s.UpdatedAt, s.IsDeleted,
	)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) GetByKeyHash(ctx context.Context, keyHash string) (*domain.Subscription, error) {
	query := selectSubscriptionColumns() + ` FROM subscriptions WHERE key_hash = $1 AND is_deleted = false`
	return r.scanOne(ctx, query, keyHash)
}

// GetByIDForUpdate locks the row; callers must run it inside a
// transaction opened via DB.Transact.
func (r *SubscriptionRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	query := selectSubscriptionColumns() + ` FROM subscriptions WHERE id = $1 AND is_deleted = false FOR UPDATE`
	return r.scanOne(ctx, query, id)
}

func (r *SubscriptionRepository) Update(ctx context.Context, s *domain.Subscription) error {
	query := `
		UPDATE subscriptions SET
			status = $2, daily_count = $3, monthly_count = $4,
			daily_reset_at = $5, month_reset_at = $6, updated_at = $7
		WHERE id = $1
	`
	tag, err := r.q.Exec(ctx, query, s.ID, s.Status, s.DailyCount, s.MonthlyCount, s.DailyResetAt, s.MonthResetAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func selectSubscriptionColumns() string {
	return `SELECT id, user_id, name, key_hash, status, daily_limit, monthly_limit,
		daily_count, monthly_count, daily_reset_at, month_reset_at, created_at, updated_at, is_deleted`
}

func (r *SubscriptionRepository) scanOne(ctx context.Context, query string, args ...any) (*domain.Subscription, error) {
	row := r.q.QueryRow(ctx, query, args...)
	s := &domain.Subscription{}
	err := row.Scan(
		&s.ID, &s.UserID, &s.Name, &s.KeyHash, &s.Status, &s.DailyLimit, &s.MonthlyLimit,
		&s.DailyCount, &s.MonthlyCount, &s.DailyResetAt, &s.MonthResetAt, &s.CreatedAt, &s.UpdatedAt, &s.IsDeleted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return s, nil
}
