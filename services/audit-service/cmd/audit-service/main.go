package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/librarycirc/libs/config"
	"github.com/md-rashed-zaman/librarycirc/libs/db"
	"github.com/md-rashed-zaman/librarycirc/libs/httpx"
	"github.com/md-rashed-zaman/librarycirc/libs/kafkax"
	otelx "github.com/md-rashed-zaman/librarycirc/libs/otel"
	"github.com/md-rashed-zaman/librarycirc/libs/runtime"
	"github.com/md-rashed-zaman/librarycirc/services/audit-service/internal/auditlog"
	"github.com/md-rashed-zaman/librarycirc/services/audit-service/internal/consumer"
	"github.com/md-rashed-zaman/librarycirc/services/audit-service/internal/handlers"
	"github.com/md-rashed-zaman/librarycirc/services/audit-service/internal/inbox"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "audit-service")
	port, err := config.Port("PORT", "8081")
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
	pool, err := db.Open(ctx, dbURL, db.Options{})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := auditlog.NewRepository(pool)
	recorder := auditlog.NewRecorder(pool, inbox.NewRepository(), repo, logger)

	brokers, err := config.RequiredString("KAFKA_BROKERS")
	if err != nil {
		panic(err)
	}
	topics := config.List("KAFKA_CONSUME_TOPICS")
	if len(topics) == 0 {
		topics = auditlog.DefaultTopics()
	}
	retryDelay, err := config.Duration("CONSUMER_RETRY_DELAY", time.Second)
	if err != nil {
		panic(err)
	}
	eventConsumer := consumer.New(logger, recorder, consumer.Config{
		Brokers:    brokers,
		GroupID:    config.String("KAFKA_GROUP_ID", service),
		Topics:     topics,
		RetryDelay: retryDelay,
	})
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/audit", handlers.NewAuditHandler(repo, logger).List)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "audit")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := runtime.Serve(ctx, srv, logger, 10*time.Second); err != nil {
		os.Exit(1)
	}
}
