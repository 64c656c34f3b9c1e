package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agendizo/agendizo/libs/httpx"
	"github.com/agendizo/agendizo/services/billing-service/internal/storage"
	"github.com/agendizo/agendizo/services/billing-service/internal/subscriptions"
	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const webhookDefaultTolerance = 5 * time.Minute

// StripeWebhook is not behind JWT auth; the signature is the authentication.
// Replayed deliveries are acknowledged without being applied twice.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	secret := strings.TrimSpace(h.cfg.StripeWebhookSecret)
	if secret == "" {
		httpx.WriteError(w, http.StatusServiceUnavailable, "stripe webhook not configured")
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing Stripe-Signature header")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, secret, h.cfg.StripeWebhookTolerance)
	if err != nil {
		h.logger.Warn("stripe webhook rejected", "err", err)
		httpx.WriteError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	occurredAt := time.Unix(evt.Created, 0).UTC()
	evtType := string(evt.Type)
	h.logger.Info("billing provider event received", "provider", "stripe", "provider_event_id", evt.ID, "event_type", evtType)

	err = h.store.InTx(r.Context(), func(tx pgx.Tx) error {
		if err := h.store.RecordProviderEvent(r.Context(), tx, storage.ProviderEvent{
			Provider:        "stripe",
			ProviderEventID: evt.ID,
			EventType:       evtType,
			Payload:         body,
		}); err != nil {
			return err
		}
		return h.applyStripeEvent(r.Context(), tx, evt, occurredAt)
	})
	switch {
	case errors.Is(err, storage.ErrDuplicateProviderEvent):
		h.logger.Info("billing provider event duplicate ignored", "provider_event_id", evt.ID)
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
	case err != nil:
		// Stripe retries on 5xx.
		h.logger.Error("stripe webhook apply failed", "err", err, "provider_event_id", evt.ID, "event_type", evtType)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to apply event")
	default:
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (h *Handler) applyStripeEvent(ctx context.Context, tx pgx.Tx, evt stripe.Event, at time.Time) error {
	switch evt.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			return nil
		}
		if err := h.store.MarkCheckoutSessionCompleted(ctx, tx, session.ID, at); err != nil {
			return err
		}
		change, ok := changeFromMetadata(session.Metadata, at)
		if !ok {
			h.logger.Warn("stripe: checkout session without business_id/tier metadata", "stripe_session_id", session.ID)
			return nil
		}
		if session.Customer != nil {
			change.CustomerID = session.Customer.ID
		}
		if session.Subscription != nil {
			change.SubscriptionID = session.Subscription.ID
		}
		return h.subs.ApplyActivated(ctx, tx, change)

	case "checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			return nil
		}
		return h.store.MarkCheckoutSessionExpired(ctx, tx, session.ID, at)

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			h.logger.Error("stripe: invalid subscription payload", "err", err)
			return nil
		}
		change, ok := changeFromMetadata(sub.Metadata, at)
		if !ok {
			h.logger.Warn("stripe: subscription without business_id/tier metadata", "stripe_subscription_id", sub.ID)
			return nil
		}
		change.SubscriptionID = sub.ID
		if sub.Customer != nil {
			change.CustomerID = sub.Customer.ID
		}
		change.PeriodStart = unixPtr(sub.CurrentPeriodStart)
		change.PeriodEnd = unixPtr(sub.CurrentPeriodEnd)

		switch {
		case evt.Type == "customer.subscription.deleted", sub.Status == stripe.SubscriptionStatusCanceled,
			sub.Status == stripe.SubscriptionStatusUnpaid, sub.Status == stripe.SubscriptionStatusIncompleteExpired:
			return h.subs.ApplyCanceled(ctx, tx, change)
		case sub.Status == stripe.SubscriptionStatusActive, sub.Status == stripe.SubscriptionStatusTrialing:
			return h.subs.ApplyActivated(ctx, tx, change)
		}
	}
	return nil
}

// changeFromMetadata reads the ids that Checkout copies onto sessions and subscriptions.
func changeFromMetadata(md map[string]string, at time.Time) (subscriptions.Change, bool) {
	businessID := strings.TrimSpace(md["business_id"])
	tier := strings.TrimSpace(md["tier"])
	if businessID == "" || tier == "" {
		return subscriptions.Change{}, false
	}
	return subscriptions.Change{BusinessID: businessID, Tier: tier, At: at}, true
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
