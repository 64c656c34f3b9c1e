package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agendizo/agendizo/libs/auth"
	"github.com/agendizo/agendizo/services/billing-service/internal/storage"
	"github.com/agendizo/agendizo/services/billing-service/internal/subscriptions"
	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
)

const testSecret = "whsec_test"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeStore struct {
	sub       *storage.Subscription
	seen      map[string]bool
	sessions  []storage.CheckoutSession
	completed []string
	expired   []string
}

func (f *fakeStore) InTx(_ context.Context, fn func(pgx.Tx) error) error { return fn(nil) }

func (f *fakeStore) GetSubscription(context.Context, string) (storage.Subscription, error) {
	if f.sub == nil {
		return storage.Subscription{}, pgx.ErrNoRows
	}
	return *f.sub, nil
}

func (f *fakeStore) UpsertCheckoutSession(_ context.Context, _ pgx.Tx, s storage.CheckoutSession) error {
	f.sessions = append(f.sessions, s)
	return nil
}

func (f *fakeStore) MarkCheckoutSessionCompleted(_ context.Context, _ pgx.Tx, id string, _ time.Time) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeStore) MarkCheckoutSessionExpired(_ context.Context, _ pgx.Tx, id string, _ time.Time) error {
	f.expired = append(f.expired, id)
	return nil
}

func (f *fakeStore) RecordProviderEvent(_ context.Context, _ pgx.Tx, evt storage.ProviderEvent) error {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[evt.ProviderEventID] {
		return storage.ErrDuplicateProviderEvent
	}
	f.seen[evt.ProviderEventID] = true
	return nil
}

type fakeSubs struct {
	activated []subscriptions.Change
	canceled  []subscriptions.Change
	err       error
}

func (f *fakeSubs) ApplyActivated(_ context.Context, _ pgx.Tx, c subscriptions.Change) error {
	f.activated = append(f.activated, c)
	return f.err
}

func (f *fakeSubs) ApplyCanceled(_ context.Context, _ pgx.Tx, c subscriptions.Change) error {
	f.canceled = append(f.canceled, c)
	return f.err
}

func newHandler(store *fakeStore, subs *fakeSubs) *Handler {
	return New(store, subs, discard, Config{
		StripeWebhookSecret: testSecret,
		Prices:              map[string]string{"pro": "price_pro"},
		CheckoutSuccessURL:  "https://app.example.com/billing/success",
		CheckoutCancelURL:   "https://app.example.com/billing/cancel",
	})
}

func signedRequest(t *testing.T, payload string, secret string, at time.Time) *http.Request {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil))))
	return req
}

func eventJSON(id, eventType, object string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":1770000000,"api_version":%q,"data":{"object":%s}}`,
		id, eventType, stripe.APIVersion, object)
}

func TestStripeWebhookRejections(t *testing.T) {
	payload := eventJSON("evt_1", "checkout.session.completed", `{"id":"cs_1"}`)

	h := New(&fakeStore{}, &fakeSubs{}, discard, Config{})
	rw := httptest.NewRecorder()
	h.StripeWebhook(rw, signedRequest(t, payload, testSecret, time.Now()))
	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without secret, got %d", rw.Code)
	}

	subs := &fakeSubs{}
	h = newHandler(&fakeStore{}, subs)

	rw = httptest.NewRecorder()
	h.StripeWebhook(rw, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload)))
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without signature, got %d", rw.Code)
	}

	rw = httptest.NewRecorder()
	h.StripeWebhook(rw, signedRequest(t, payload, "whsec_other", time.Now()))
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong secret, got %d", rw.Code)
	}

	rw = httptest.NewRecorder()
	h.StripeWebhook(rw, signedRequest(t, payload, testSecret, time.Now().Add(-time.Hour)))
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for stale timestamp, got %d", rw.Code)
	}

	if len(subs.activated) != 0 {
		t.Fatal("rejected events must not be applied")
	}
}

func TestStripeWebhookCheckoutCompleted(t *testing.T) {
	store := &fakeStore{}
	subs := &fakeSubs{}
	h := newHandler(store, subs)
	payload := eventJSON("evt_2", "checkout.session.completed",
		`{"id":"cs_1","object":"checkout.session","customer":"cus_1","subscription":"sub_1","metadata":{"business_id":"b1","tier":"pro"}}`)

	rw := httptest.NewRecorder()
	h.StripeWebhook(rw, signedRequest(t, payload, testSecret, time.Now()))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rw.Code, rw.Body.String())
	}
	if len(subs.activated) != 1 {
		t.Fatalf("expected one activation, got %d", len(subs.activated))
	}
	c := subs.activated[0]
	if c.BusinessID != "b1" || c.Tier != "pro" || c.CustomerID != "cus_1" || c.SubscriptionID != "sub_1" {
		t.Fatalf("unexpected change %+v", c)
	}
	if len(store.completed) != 1 || store.completed[0] != "cs_1" {
		t.Fatalf("expected checkout session completed, got %v", store.completed)
	}

	rw = httptest.NewRecorder()
	h.StripeWebhook(rw, signedRequest(t, payload, testSecret, time.Now()))
	if rw.Code != http.StatusOK || !strings.Contains(rw.Body.String(), "duplicate") || len(subs.activated) != 1 {
		t.Fatalf("expected duplicate to be ignored, got %d %s", rw.Code, rw.Body.String())
	}
}

func TestStripeWebhookSubscriptionDeleted(t *testing.T) {
	subs := &fakeSubs{}
	h := newHandler(&fakeStore{}, subs)
	payload := eventJSON("evt_3", "customer.subscription.deleted",
		`{"id":"sub_1","object":"subscription","status":"canceled","customer":"cus_1","metadata":{"business_id":"b1","tier":"pro"}}`)

	rw := httptest.NewRecorder()
	h.StripeWebhook(rw, signedRequest(t, payload, testSecret, time.Now()))
	if rw.Code != http.StatusOK || len(subs.canceled) != 1 || subs.canceled[0].BusinessID != "b1" {
		t.Fatalf("expected cancellation, got %d %+v", rw.Code, subs.canceled)
	}
}

func TestStripeWebhookApplyFailureIs500(t *testing.T) {
	subs := &fakeSubs{err: errors.New("db down")}
	h := newHandler(&fakeStore{}, subs)
	payload := eventJSON("evt_4", "customer.subscription.updated",
		`{"id":"sub_1","object":"subscription","status":"active","metadata":{"business_id":"b1","tier":"starter"}}`)

	rw := httptest.NewRecorder()
	h.StripeWebhook(rw, signedRequest(t, payload, testSecret, time.Now()))
	if rw.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so Stripe retries, got %d", rw.Code)
	}
}

func TestCheckout(t *testing.T) {
	store := &fakeStore{}
	h := newHandler(store, &fakeSubs{})
	var got *stripe.CheckoutSessionParams
	h.newSession = func(p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		got = p
		return &stripe.CheckoutSession{ID: "cs_9", URL: "https://checkout.stripe.com/cs_9"}, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", strings.NewReader(`{"tier":"Pro"}`))
	req.Header.Set(auth.HeaderBusinessID, "b1")
	rw := httptest.NewRecorder()
	h.Checkout(rw, req)
	if rw.Code != http.StatusOK || !strings.Contains(rw.Body.String(), "cs_9") {
		t.Fatalf("expected session, got %d %s", rw.Code, rw.Body.String())
	}
	if *got.Mode != string(stripe.CheckoutSessionModeSubscription) || *got.LineItems[0].Price != "price_pro" || got.Metadata["business_id"] != "b1" {
		t.Fatalf("unexpected params %+v", got)
	}
	if len(store.sessions) != 1 || store.sessions[0].Tier != "pro" {
		t.Fatalf("expected persisted session, got %+v", store.sessions)
	}

	for _, body := range []string{`{"tier":"free"}`, `{"tier":"starter"}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", strings.NewReader(body))
		req.Header.Set(auth.HeaderBusinessID, "b1")
		rw := httptest.NewRecorder()
		h.Checkout(rw, req)
		if rw.Code == http.StatusOK {
			t.Fatalf("%s: expected failure, got 200", body)
		}
	}
}

func TestGetSubscriptionDefaultsToFree(t *testing.T) {
	h := newHandler(&fakeStore{}, &fakeSubs{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/subscription", nil)
	req.Header.Set(auth.HeaderBusinessID, "b1")
	rw := httptest.NewRecorder()
	h.GetSubscription(rw, req)
	if rw.Code != http.StatusOK || !strings.Contains(rw.Body.String(), `"max_monthly_appointments":200`) {
		t.Fatalf("unexpected response %d %s", rw.Code, rw.Body.String())
	}
}
