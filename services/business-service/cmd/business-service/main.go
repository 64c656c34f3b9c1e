package main

import (
	"context"
	"net/http"
	"time"

	"github.com/agendizo/agendizo/libs/auth"
	"github.com/agendizo/agendizo/libs/config"
	"github.com/agendizo/agendizo/libs/db"
	"github.com/agendizo/agendizo/libs/grpcx"
	"github.com/agendizo/agendizo/libs/httpx"
	"github.com/agendizo/agendizo/libs/kafkax"
	otelx "github.com/agendizo/agendizo/libs/otel"
	"github.com/agendizo/agendizo/libs/outbox"
	"github.com/agendizo/agendizo/libs/runtime"
	"github.com/agendizo/agendizo/services/business-service/internal/handlers"
	"github.com/agendizo/agendizo/services/business-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "business-service")
	port, err := config.Port("PORT", "8082")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9092")
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
	outboxRepo := outbox.NewRepository(pool)
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Seconds("OUTBOX_POLL_SECONDS", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	// booking-service uses this to decide whether the schedule owner is reachable.
	health := grpcx.NewHealthServer(service)
	if err := health.Serve(ctx, logger, ":"+grpcPort); err != nil {
		logger.Error("grpc health server failed", "err", err)
	} else {
		health.SetServing(true)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	h := handlers.New(storage.NewRepository(pool, outboxRepo), logger)
	h.Register(mux, func(next http.Handler) http.Handler {
		return auth.RequireAuth(next, jwtSecret)
	})

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Seconds("HTTP_HANDLER_TIMEOUT_SECONDS", 15*time.Second)),
	)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: otelhttp.NewHandler(httpHandler, "business"),
	}
	runtime.ServeHTTP(ctx, logger, srv)
}
