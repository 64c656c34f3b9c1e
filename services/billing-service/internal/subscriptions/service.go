// Package subscriptions applies provider-confirmed subscription changes and
// announces the resulting plan limits to other services.
package subscriptions

import (
	"context"
	"time"

	"github.com/agendizo/agendizo/libs/outbox"
	"github.com/agendizo/agendizo/services/billing-service/internal/plans"
	"github.com/agendizo/agendizo/services/billing-service/internal/storage"
	"github.com/jackc/pgx/v5"
)

const (
	EventActivated = "billing.subscription.activated.v1"
	EventCanceled  = "billing.subscription.canceled.v1"

	StatusActive   = "active"
	StatusCanceled = "canceled"
)

type Store interface {
	GetSubscriptionForUpdate(ctx context.Context, tx pgx.Tx, businessID string) (storage.Subscription, bool, error)
	UpsertSubscription(ctx context.Context, tx pgx.Tx, s storage.Subscription) error
}

type EventWriter interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

// Change is a subscription update reported by the payment provider.
type Change struct {
	BusinessID     string
	Tier           string
	CustomerID     string
	SubscriptionID string
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	At             time.Time
}

type Service struct {
	store  Store
	events EventWriter
}

func New(store Store, events EventWriter) *Service {
	return &Service{store: store, events: events}
}

func (s *Service) ApplyActivated(ctx context.Context, tx pgx.Tx, c Change) error {
	limits := plans.ForTier(c.Tier)
	return s.apply(ctx, tx, c, limits, StatusActive, EventActivated, "activated_at")
}

// ApplyCanceled reverts the business to the free plan.
func (s *Service) ApplyCanceled(ctx context.Context, tx pgx.Tx, c Change) error {
	limits := plans.ForTier(plans.TierFree)
	return s.apply(ctx, tx, c, limits, StatusCanceled, EventCanceled, "canceled_at")
}

func (s *Service) apply(ctx context.Context, tx pgx.Tx, c Change, limits plans.Limits, status, eventType, atField string) error {
	existing, found, err := s.store.GetSubscriptionForUpdate(ctx, tx, c.BusinessID)
	if err != nil {
		return err
	}
	err = s.store.UpsertSubscription(ctx, tx, storage.Subscription{
		BusinessID:           c.BusinessID,
		Tier:                 limits.Tier,
		Status:               status,
		StripeCustomerID:     c.CustomerID,
		StripeSubscriptionID: c.SubscriptionID,
		CurrentPeriodStart:   c.PeriodStart,
		CurrentPeriodEnd:     c.PeriodEnd,
	})
	if err != nil {
		return err
	}

	// Provider id or period updates alone do not change entitlements.
	if found && existing.Status == status && existing.Tier == limits.Tier {
		return nil
	}

	evt, err := outbox.NewEvent("subscription", c.BusinessID, eventType, map[string]any{
		"business_id":              c.BusinessID,
		"tier":                     limits.Tier,
		"max_monthly_appointments": limits.MaxMonthlyAppointments,
		atField:                    c.At.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return s.events.Insert(ctx, tx, evt)
}
