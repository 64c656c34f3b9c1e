// Package events turns Kafka messages from other services into local state changes.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/agendizo/agendizo/libs/kafkax"
	"github.com/agendizo/agendizo/services/booking-service/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

const (
	TopicSubscriptionActivated = "billing.subscription.activated.v1"
	TopicSubscriptionCanceled  = "billing.subscription.canceled.v1"
	TopicScheduleChanged       = "business.schedule.changed.v1"
)

type EntitlementsStore interface {
	InTx(ctx context.Context, fn func(pgx.Tx) error) error
	UpsertBusinessEntitlements(ctx context.Context, tx pgx.Tx, ent storage.BusinessEntitlements) error
}

type ScheduleInvalidator interface {
	Invalidate(businessID string)
}

// Entitlements stores the plan limits carried by billing subscription events.
// Malformed payloads are logged and dropped; retrying them cannot succeed.
func Entitlements(store EntitlementsStore, logger *slog.Logger) kafkax.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			BusinessID             string `json:"business_id"`
			Tier                   string `json:"tier"`
			MaxMonthlyAppointments int    `json:"max_monthly_appointments"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.BusinessID == "" || payload.Tier == "" || payload.MaxMonthlyAppointments <= 0 {
			logger.Error("missing required event fields", "topic", msg.Topic)
			return nil
		}

		return store.InTx(ctx, func(tx pgx.Tx) error {
			return store.UpsertBusinessEntitlements(ctx, tx, storage.BusinessEntitlements{
				BusinessID:             payload.BusinessID,
				Tier:                   payload.Tier,
				MaxMonthlyAppointments: payload.MaxMonthlyAppointments,
			})
		})
	}
}

// ScheduleChanged evicts the cached schedule of the business named in the event.
func ScheduleChanged(cache ScheduleInvalidator, logger *slog.Logger) kafkax.Handler {
	return func(_ context.Context, msg kafka.Message) error {
		var payload struct {
			BusinessID string `json:"business_id"`
			Section    string `json:"section"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil || payload.BusinessID == "" {
			logger.Error("invalid schedule event", "err", err, "topic", msg.Topic)
			return nil
		}
		cache.Invalidate(payload.BusinessID)
		logger.Debug("schedule cache invalidated", "business_id", payload.BusinessID, "section", payload.Section)
		return nil
	}
}
