package main

import (
	"context"
	"net/http"
	"time"

	"github.com/agendizo/agendizo/libs/auth"
	"github.com/agendizo/agendizo/libs/config"
	"github.com/agendizo/agendizo/libs/db"
	"github.com/agendizo/agendizo/libs/httpx"
	"github.com/agendizo/agendizo/libs/kafkax"
	otelx "github.com/agendizo/agendizo/libs/otel"
	"github.com/agendizo/agendizo/libs/outbox"
	"github.com/agendizo/agendizo/libs/runtime"
	"github.com/agendizo/agendizo/services/billing-service/internal/handlers"
	"github.com/agendizo/agendizo/services/billing-service/internal/plans"
	"github.com/agendizo/agendizo/services/billing-service/internal/storage"
	"github.com/agendizo/agendizo/services/billing-service/internal/subscriptions"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "billing-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	jwtSecret, err := config.RequiredString("SUPABASE_JWT_SECRET")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(config.Int("DB_MAX_CONNS", 5))})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	brokers := config.String("KAFKA_BROKERS", "")
	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	subs := subscriptions.New(repo, outboxRepo)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Seconds("OUTBOX_POLL_SECONDS", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	h := handlers.New(repo, subs, logger, handlers.Config{
		StripeSecretKey:        config.String("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookTolerance: config.Seconds("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 5*time.Minute),
		Prices: map[string]string{
			plans.TierStarter: config.String("STRIPE_PRICE_STARTER", ""),
			plans.TierPro:     config.String("STRIPE_PRICE_PRO", ""),
		},
		CheckoutSuccessURL: config.String("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:  config.String("CHECKOUT_CANCEL_URL", ""),
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.Handle("/api/v1/billing/checkout", auth.RequireAuth(httpx.Methods(map[string]http.HandlerFunc{
		http.MethodPost: h.Checkout,
	}), jwtSecret))
	mux.Handle("/api/v1/billing/subscription", auth.RequireAuth(httpx.Methods(map[string]http.HandlerFunc{
		http.MethodGet: h.GetSubscription,
	}), jwtSecret))
	mux.Handle("/api/v1/billing/webhooks/stripe", httpx.Methods(map[string]http.HandlerFunc{
		http.MethodPost: h.StripeWebhook,
	}))

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithTimeout(config.Seconds("HTTP_HANDLER_TIMEOUT_SECONDS", 15*time.Second)),
	)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: otelhttp.NewHandler(handler, "billing"),
	}
	runtime.ServeHTTP(ctx, logger, srv)
}
