package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/librarycirc/libs/config"
	"github.com/md-rashed-zaman/librarycirc/libs/db"
	"github.com/md-rashed-zaman/librarycirc/libs/httpx"
	"github.com/md-rashed-zaman/librarycirc/libs/kafkax"
	otelx "github.com/md-rashed-zaman/librarycirc/libs/otel"
	"github.com/md-rashed-zaman/librarycirc/libs/redisx"
	"github.com/md-rashed-zaman/librarycirc/libs/runtime"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/circulation"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/handlers"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/outbox"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/overdue"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/policy"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "circulation-service")
	port, err := config.Port("PORT", "8080")
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

	var checks []runtime.ReadyCheck
	brokers := config.String("KAFKA_BROKERS", "")

	var store storage.Store
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		maxConns, err := config.PositiveInt("DB_MAX_CONNS", 10)
		if err != nil {
			panic(err)
		}
		pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(maxConns)})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()

		outboxRepo := outbox.NewRepository()
		store = storage.NewPostgresStore(pool, outboxRepo)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: 2 * time.Second,
			BatchSize: 50,
		})
		go publisher.Run(ctx)
		if brokers != "" {
			checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
		}
	} else {
		logger.Warn("DATABASE_URL not set, using the in-memory store; events are not published")
		store = storage.NewMemoryStore()
	}

	redisDB, err := config.Int("REDIS_DB", 0)
	if err != nil {
		panic(err)
	}
	rdb, err := redisx.Open(ctx, redisx.Config{
		Addr:     config.String("REDIS_ADDR", ""),
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       redisDB,
	})
	if err != nil {
		logger.Error("redis unavailable, continuing without cache", "err", err)
		rdb = nil
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)})
	}

	rules, err := loanRules(logger)
	if err != nil {
		panic(err)
	}
	if rdb != nil {
		ttl, err := config.Duration("LOAN_RULE_CACHE_SECONDS", 5*time.Minute)
		if err != nil {
			panic(err)
		}
		rules = policy.NewCachedProvider(rules, rdb, policy.CacheConfig{TTL: ttl}, logger)
	}

	svc := circulation.NewService(store, rules, logger)

	sweepEvery, err := config.Duration("OVERDUE_SWEEP_INTERVAL", time.Hour)
	if err != nil {
		panic(err)
	}
	go overdue.NewWorker(svc, logger, overdue.WorkerConfig{Interval: sweepEvery}).Run(ctx)

	perMinute, err := config.PositiveInt("RATE_LIMIT_PER_MINUTE", 600)
	if err != nil {
		panic(err)
	}
	var limiter httpx.Limiter = httpx.NewMemoryRateLimiter(perMinute, time.Minute)
	if rdb != nil {
		limiter = httpx.NewRedisRateLimiter(rdb, perMinute, time.Minute, service+":ratelimit")
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.NewCirculationHandler(svc, logger).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.RateLimit(limiter, logger, true),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "circulation")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := runtime.Serve(ctx, srv, logger, 10*time.Second); err != nil {
		os.Exit(1)
	}
}

// loanRules builds the rule matcher from LOAN_RULES with LOAN_PERIOD_DAYS as
// the fallback period.
func loanRules(logger *slog.Logger) (policy.Provider, error) {
	days, err := config.PositiveInt("LOAN_PERIOD_DAYS", policy.DefaultLoanPeriodDays)
	if err != nil {
		return nil, err
	}
	raw := config.String("LOAN_RULES", "")
	if raw == "" {
		return policy.NewStaticProvider(days), nil
	}
	rules, err := policy.ParseRules(raw)
	if err != nil {
		return nil, err
	}
	logger.Info("loan rules loaded", "count", len(rules), "fallback_days", days)
	return policy.NewRuleProvider(rules, days), nil
}
