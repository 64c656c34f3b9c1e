package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/agendizo/agendizo/libs/db"
	"github.com/jackc/pgx/v5"
)

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return r.pool.InTx(ctx, fn)
}

type Subscription struct {
	BusinessID           string     `json:"business_id"`
	Tier                 string     `json:"tier"`
	Status               string     `json:"status"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	CurrentPeriodStart   *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

const subscriptionColumns = `
	business_id::text, tier, status,
	COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''),
	current_period_start, current_period_end, updated_at`

func scanSubscription(row pgx.Row) (Subscription, error) {
	var s Subscription
	err := row.Scan(&s.BusinessID, &s.Tier, &s.Status, &s.StripeCustomerID, &s.StripeSubscriptionID,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.UpdatedAt)
	return s, err
}

func (r *Repository) UpsertSubscription(ctx context.Context, tx pgx.Tx, s Subscription) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO subscriptions (business_id, tier, status, stripe_customer_id, stripe_subscription_id, current_period_start, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (business_id)
		DO UPDATE SET tier = EXCLUDED.tier,
			status = EXCLUDED.status,
			stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, subscriptions.stripe_customer_id),
			stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, subscriptions.stripe_subscription_id),
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = now()
	`, s.BusinessID, s.Tier, s.Status, nullIfEmpty(s.StripeCustomerID), nullIfEmpty(s.StripeSubscriptionID),
		s.CurrentPeriodStart, s.CurrentPeriodEnd)
	return err
}

func (r *Repository) GetSubscription(ctx context.Context, businessID string) (Subscription, error) {
	return scanSubscription(r.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE business_id = $1`, businessID))
}

// GetSubscriptionForUpdate reports found=false instead of an error when the business has no row yet.
func (r *Repository) GetSubscriptionForUpdate(ctx context.Context, tx pgx.Tx, businessID string) (Subscription, bool, error) {
	s, err := scanSubscription(tx.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE business_id = $1 FOR UPDATE`, businessID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, false, nil
	}
	if err != nil {
		return Subscription{}, false, err
	}
	return s, true, nil
}

type CheckoutSession struct {
	StripeSessionID string
	BusinessID      string
	Tier            string
	Status          string
	URL             string
}

func (r *Repository) UpsertCheckoutSession(ctx context.Context, tx pgx.Tx, s CheckoutSession) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO checkout_sessions (stripe_session_id, business_id, tier, status, url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stripe_session_id)
		DO UPDATE SET status = EXCLUDED.status, url = EXCLUDED.url, updated_at = now()
	`, s.StripeSessionID, s.BusinessID, s.Tier, s.Status, nullIfEmpty(s.URL))
	return err
}

func (r *Repository) MarkCheckoutSessionCompleted(ctx context.Context, tx pgx.Tx, stripeSessionID string, completedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'completed', completed_at = $2, updated_at = now()
		WHERE stripe_session_id = $1
	`, stripeSessionID, completedAt)
	return err
}

// MarkCheckoutSessionExpired never downgrades a completed session.
func (r *Repository) MarkCheckoutSessionExpired(ctx context.Context, tx pgx.Tx, stripeSessionID string, expiredAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'expired', expired_at = $2, updated_at = now()
		WHERE stripe_session_id = $1 AND status <> 'completed'
	`, stripeSessionID, expiredAt)
	return err
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

// RecordProviderEvent returns ErrDuplicateProviderEvent for replayed webhook deliveries.
func (r *Repository) RecordProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, string(evt.Payload))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
