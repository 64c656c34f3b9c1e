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
	"github.com/agendizo/agendizo/libs/inbox"
	"github.com/agendizo/agendizo/libs/kafkax"
	otelx "github.com/agendizo/agendizo/libs/otel"
	"github.com/agendizo/agendizo/libs/outbox"
	"github.com/agendizo/agendizo/libs/runtime"
	"github.com/agendizo/agendizo/services/booking-service/internal/booking"
	"github.com/agendizo/agendizo/services/booking-service/internal/events"
	"github.com/agendizo/agendizo/services/booking-service/internal/handlers"
	"github.com/agendizo/agendizo/services/booking-service/internal/metrics"
	"github.com/agendizo/agendizo/services/booking-service/internal/slots"
	"github.com/agendizo/agendizo/services/booking-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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

	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(config.Int("DB_MAX_CONNS", 10))})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	metrics.Register()

	brokers := config.String("KAFKA_BROKERS", "")
	scheduleRepo := storage.NewScheduleRepository(pool)
	bookingRepo := storage.NewBookingRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	schedules := slots.NewScheduleCache(scheduleRepo,
		config.Int("SCHEDULE_CACHE_SIZE", 1024),
		config.Seconds("SCHEDULE_CACHE_TTL_SECONDS", time.Minute),
	)
	slotService := slots.NewService(schedules, scheduleRepo, bookingRepo)
	bookingService := booking.NewService(bookingRepo, outboxRepo, slotService, logger)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Seconds("OUTBOX_POLL_SECONDS", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	groupID := config.String("KAFKA_GROUP_ID", "booking-service")
	startConsumer := func(topic string, handler kafkax.Handler) {
		if len(kafkax.SplitBrokers(brokers)) == 0 || topic == "" {
			return
		}
		consumer := kafkax.NewConsumer(logger, inboxRepo, kafkax.ConsumerConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, handler)
		go consumer.Run(ctx)
	}
	entitlementsHandler := events.Entitlements(bookingRepo, logger)
	startConsumer(events.TopicSubscriptionActivated, entitlementsHandler)
	startConsumer(events.TopicSubscriptionCanceled, entitlementsHandler)
	if cache, ok := schedules.(*slots.ScheduleCache); ok {
		startConsumer(events.TopicScheduleChanged, events.ScheduleChanged(cache, logger))
	}

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}

	var rateLimit httpx.Middleware
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: config.String("REDIS_PASSWORD", "")})
		defer rdb.Close()
		limiter := httpx.NewRedisRateLimiter(rdb,
			config.Int("PUBLIC_RATE_LIMIT", 60),
			config.Seconds("PUBLIC_RATE_WINDOW_SECONDS", time.Minute),
			"rl:booking:public",
		)
		rateLimit = limiter.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
	}

	if addr := config.String("BUSINESS_GRPC_ADDR", ""); addr != "" {
		conn, err := grpcx.Dial(addr, grpcx.DialOptions{})
		if err != nil {
			logger.Error("business grpc dial failed", "err", err)
		} else {
			defer conn.Close()
			checks = append(checks, runtime.ReadyCheck{Name: "business-service", Check: grpcx.HealthCheck(conn, "business-service")})
		}
	}

	publicHandler := handlers.NewPublicHandler(scheduleRepo, slotService, bookingService, logger)
	appointmentsHandler := handlers.NewAppointmentsHandler(bookingRepo, slotService, bookingService, logger)

	public := func(h http.HandlerFunc) http.Handler {
		return httpx.Chain(h,
			httpx.WithCORS(httpx.CORSPolicy{
				AllowedOrigins: config.List("PUBLIC_CORS_ORIGINS", "*"),
				AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders: []string{"Content-Type", "Idempotency-Key", httpx.RequestIDHeader},
				MaxAge:         10 * time.Minute,
			}),
			rateLimit,
		)
	}
	private := func(h http.HandlerFunc) http.Handler {
		return auth.RequireAuth(h, jwtSecret)
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/v1/public/business", public(publicHandler.Business))
	mux.Handle("/api/v1/public/slots", public(publicHandler.Slots))
	mux.Handle("/api/v1/public/book", public(publicHandler.Book))
	mux.Handle("/api/v1/appointments", private(httpx.Methods(map[string]http.HandlerFunc{
		http.MethodGet:  appointmentsHandler.List,
		http.MethodPost: appointmentsHandler.Create,
	})))
	mux.Handle("/api/v1/appointments/slots", private(appointmentsHandler.Slots))
	mux.Handle("/api/v1/appointments/reschedule", private(appointmentsHandler.Reschedule))
	mux.Handle("/api/v1/appointments/status", private(appointmentsHandler.Status))

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Seconds("HTTP_HANDLER_TIMEOUT_SECONDS", 15*time.Second)),
	)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: otelhttp.NewHandler(httpHandler, "booking"),
	}
	runtime.ServeHTTP(ctx, logger, srv)
}
