package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agendizo/agendizo/libs/auth"
	"github.com/agendizo/agendizo/libs/httpx"
	"github.com/agendizo/agendizo/services/billing-service/internal/plans"
	"github.com/agendizo/agendizo/services/billing-service/internal/storage"
	"github.com/agendizo/agendizo/services/billing-service/internal/subscriptions"
	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
)

type Store interface {
	InTx(ctx context.Context, fn func(pgx.Tx) error) error
	GetSubscription(ctx context.Context, businessID string) (storage.Subscription, error)
	UpsertCheckoutSession(ctx context.Context, tx pgx.Tx, s storage.CheckoutSession) error
	MarkCheckoutSessionCompleted(ctx context.Context, tx pgx.Tx, stripeSessionID string, completedAt time.Time) error
	MarkCheckoutSessionExpired(ctx context.Context, tx pgx.Tx, stripeSessionID string, expiredAt time.Time) error
	RecordProviderEvent(ctx context.Context, tx pgx.Tx, evt storage.ProviderEvent) error
}

type Subscriptions interface {
	ApplyActivated(ctx context.Context, tx pgx.Tx, c subscriptions.Change) error
	ApplyCanceled(ctx context.Context, tx pgx.Tx, c subscriptions.Change) error
}

type Config struct {
	StripeSecretKey        string
	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
	// Prices maps a paid tier to its Stripe price id.
	Prices             map[string]string
	CheckoutSuccessURL string
	CheckoutCancelURL  string
}

type Handler struct {
	store      Store
	subs       Subscriptions
	logger     *slog.Logger
	cfg        Config
	newSession func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func New(store Store, subs Subscriptions, logger *slog.Logger, cfg Config) *Handler {
	if cfg.StripeWebhookTolerance <= 0 {
		cfg.StripeWebhookTolerance = webhookDefaultTolerance
	}
	h := &Handler{store: store, subs: subs, logger: logger, cfg: cfg}
	if key := strings.TrimSpace(cfg.StripeSecretKey); key != "" {
		client := checkoutsession.Client{B: stripe.GetBackend(stripe.APIBackend), Key: key}
		h.newSession = client.New
	}
	return h
}

type checkoutRequest struct {
	Tier       string `json:"tier"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// Checkout starts a Stripe Checkout session in subscription mode. The plan is
// applied later by the webhook, never by this call.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.newSession == nil {
		httpx.WriteError(w, http.StatusNotImplemented, "stripe checkout not configured")
		return
	}
	businessID := auth.BusinessID(r)
	if businessID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing business context")
		return
	}

	var req checkoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	tier := plans.Normalize(req.Tier)
	if !plans.Paid(tier) {
		httpx.WriteError(w, http.StatusBadRequest, "unsupported tier")
		return
	}
	priceID := strings.TrimSpace(h.cfg.Prices[tier])
	if priceID == "" {
		httpx.WriteError(w, http.StatusNotImplemented, "stripe price not configured for tier")
		return
	}

	successURL := firstNonEmpty(req.SuccessURL, h.cfg.CheckoutSuccessURL)
	cancelURL := firstNonEmpty(req.CancelURL, h.cfg.CheckoutCancelURL)
	if !validURL(successURL) || !validURL(cancelURL) {
		httpx.WriteError(w, http.StatusBadRequest, "success_url and cancel_url must be absolute URLs")
		return
	}

	metadata := map[string]string{"business_id": businessID, "tier": tier}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(businessID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		Metadata: metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		params.IdempotencyKey = stripe.String(key)
	}

	sess, err := h.newSession(params)
	if err != nil {
		h.logger.Error("stripe checkout session create failed", "err", err, "business_id", businessID)
		httpx.WriteError(w, http.StatusBadGateway, "failed to create checkout session")
		return
	}

	err = h.store.InTx(r.Context(), func(tx pgx.Tx) error {
		return h.store.UpsertCheckoutSession(r.Context(), tx, storage.CheckoutSession{
			StripeSessionID: sess.ID,
			BusinessID:      businessID,
			Tier:            tier,
			Status:          "created",
			URL:             sess.URL,
		})
	})
	if err != nil {
		h.logger.Error("persist checkout session failed", "err", err, "stripe_session_id", sess.ID)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to persist checkout session")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"session_id": sess.ID, "url": sess.URL})
}

// GetSubscription answers with free-plan defaults when the business never subscribed.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	businessID := auth.BusinessID(r)
	if businessID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing business context")
		return
	}

	sub, err := h.store.GetSubscription(r.Context(), businessID)
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"business_id":  businessID,
			"tier":         plans.TierFree,
			"status":       "none",
			"entitlements": plans.ForTier(plans.TierFree),
		})
		return
	}
	if err != nil {
		h.logger.Error("load subscription failed", "err", err, "business_id", businessID)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load subscription")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"business_id":        businessID,
		"tier":               sub.Tier,
		"status":             sub.Status,
		"current_period_end": sub.CurrentPeriodEnd,
		"updated_at":         sub.UpdatedAt.UTC().Format(time.RFC3339),
		"entitlements":       plans.ForTier(sub.Tier),
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
