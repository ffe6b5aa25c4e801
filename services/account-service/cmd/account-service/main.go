package main

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AleksK1NG/account-projections/libs/config"
	"github.com/AleksK1NG/account-projections/libs/db"
	"github.com/AleksK1NG/account-projections/libs/httpx"
	"github.com/AleksK1NG/account-projections/libs/kafkax"
	otelx "github.com/AleksK1NG/account-projections/libs/otel"
	"github.com/AleksK1NG/account-projections/libs/runtime"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/account"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/bus"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/consumer"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/events"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/handlers"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/outbox"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/projection"
)

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	service := config.String("SERVICE_NAME", "account-service")
	port, err := config.Port("PORT", "8090")
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
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	brokers := config.String("KAFKA_BROKERS", "")
	if strings.TrimSpace(brokers) == "" {
		panic("KAFKA_BROKERS is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.String("REDIS_ADDR", "localhost:6379"),
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
	defer func() { _ = rdb.Close() }()

	accountsRepo := account.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	commands := account.NewService(pool, accountsRepo, outboxRepo, logger)

	publisher := bus.NewKafkaPublisher(kafkax.SplitBrokers(brokers), logger)
	defer func() { _ = publisher.Close() }()

	scheduler := outbox.NewScheduler(outboxRepo, publisher, logger, outbox.SchedulerConfig{
		InitialDelay: config.Duration("OUTBOX_INITIAL_DELAY", 3*time.Second),
		Interval:     config.Duration("OUTBOX_INTERVAL", 2*time.Second),
		BatchSize:    config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go scheduler.Run(ctx)

	projectionRepo := projection.NewRepository(pool)
	cache := projection.NewCache(rdb, config.Duration("PROJECTION_CACHE_TTL", 5*time.Minute))
	projections := projection.NewCachedStore(projectionRepo, cache, logger)
	projectionHandler := projection.NewHandler(projections, logger)
	repairer := projection.NewRepairer(accountsRepo, projections, logger)

	pipeline := consumer.NewPipeline(publisher, projectionHandler, repairer, logger, consumer.PipelineConfig{
		MaxRetries:    config.Int("CONSUMER_MAX_RETRIES", consumer.DefaultMaxRetries),
		DLQTopic:      config.String("KAFKA_DLQ_TOPIC", events.DeadLetterTopic),
		RepairWorkers: config.Int("REPAIR_WORKERS", 2),
	})
	pipeline.Start(ctx)
	defer pipeline.Shutdown()

	groupID := config.String("KAFKA_GROUP_ID", "account-service")
	concurrency := config.Int("CONSUMER_POOL_SIZE", 2)

	var consumers sync.WaitGroup
	startConsumer := func(topic string) {
		c := consumer.New(logger, pipeline, consumer.Config{
			Brokers:     brokers,
			GroupID:     groupID,
			Topic:       topic,
			Concurrency: concurrency,
		})
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			c.Run(ctx)
		}()
	}
	// Retry-topic consumers run the same pipeline as the primary ones, so
	// retries chain through identical handling until exhaustion.
	for _, topic := range events.Types() {
		startConsumer(topic)
		startConsumer(events.RetryTopic(topic))
	}

	accountHandler := handlers.NewAccountHandler(commands, projections, logger)
	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
		runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	)
	mux.HandleFunc("/api/v1/accounts/create", accountHandler.Create)
	mux.HandleFunc("/api/v1/accounts/deposit", accountHandler.Deposit)
	mux.HandleFunc("/api/v1/accounts/withdraw", accountHandler.Withdraw)
	mux.HandleFunc("/api/v1/accounts/status", accountHandler.ChangeStatus)
	mux.HandleFunc("/api/v1/accounts/contact", accountHandler.ChangeContactInfo)
	mux.HandleFunc("/api/v1/accounts/personal", accountHandler.UpdatePersonalInfo)
	mux.HandleFunc("/api/v1/accounts", accountHandler.Get)

	rl := httpx.NewRedisRateLimiter(rdb, config.Int("RATE_LIMIT_PER_MINUTE", 120), time.Minute, "account-rl")
	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: splitList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: splitList(config.String("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")),
			AllowedHeaders: splitList(config.String("CORS_ALLOWED_HEADERS", "Content-Type,X-Request-Id")),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 10*time.Second)),
		rl.Middleware(logger, true),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "account")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	consumers.Wait()
	logger.Info("account service stopped")
}
