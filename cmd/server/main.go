package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	auditchain "chainlog/internal/audit/chain"
	"chainlog/internal/audit/handler"
	"chainlog/internal/audit/lock"
	"chainlog/internal/audit/metrics"
	"chainlog/internal/audit/ports"
	"chainlog/internal/audit/service"
	"chainlog/internal/audit/sink"
	memorystore "chainlog/internal/audit/store/memory"
	postgresstore "chainlog/internal/audit/store/postgres"
	"chainlog/internal/platform/config"
	"chainlog/internal/platform/httpserver"
	"chainlog/internal/platform/logger"
	platformredis "chainlog/internal/platform/redis"
	"chainlog/pkg/platform/middleware/auth"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Chain semantics live in internal/audit.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		log.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(metrics.New()),
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		opts = append(opts, service.WithLease(
			lock.NewRedisLease(redisClient.Client, "chainlog:append-lease")))
		log.Info("append lease enabled", "key", "chainlog:append-lease")
	}

	g, ctx := errgroup.WithContext(ctx)

	var bufferedSink *sink.Buffered
	if len(cfg.Kafka.Brokers) > 0 {
		writer, err := sink.NewKafkaWriter(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Error("kafka sink init failed", "error", err)
			os.Exit(1)
		}
		bufferedSink = sink.NewBuffered(writer, cfg.SinkBuffer, log)
		opts = append(opts, service.WithSink(bufferedSink))
		g.Go(func() error {
			err := bufferedSink.Run(ctx)
			if closeErr := bufferedSink.Close(); closeErr != nil {
				log.Warn("sink close failed", "error", closeErr)
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		log.Info("kafka sink enabled", "topic", cfg.Kafka.Topic)
	}

	svc, err := service.New(store, auditchain.New(), opts...)
	if err != nil {
		log.Error("service init failed", "error", err)
		os.Exit(1)
	}

	validator := auth.NewValidator(cfg.JWTSigningKey)
	auditHandler := handler.New(svc, log, validator)

	router := chi.NewRouter()
	auditHandler.Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := httpserver.New(cfg.Addr, router)

	g.Go(func() error {
		log.Info("starting chainlog", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Info("chainlog stopped")
}

// buildStore selects Postgres when a DSN is configured, otherwise falls
// back to the in-memory store for development.
func buildStore(ctx context.Context, cfg config.Server) (ports.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		return memorystore.New(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	store := postgresstore.New(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() { db.Close() }, nil
}
