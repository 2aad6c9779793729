package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/azizikri/coupon-marketplace/internal/auth"
	"github.com/azizikri/coupon-marketplace/internal/cache"
	"github.com/azizikri/coupon-marketplace/internal/config"
	httphandler "github.com/azizikri/coupon-marketplace/internal/delivery/http"
	"github.com/azizikri/coupon-marketplace/internal/delivery/kafka"
	"github.com/azizikri/coupon-marketplace/internal/repository"
	"github.com/azizikri/coupon-marketplace/internal/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	zerolog.SetGlobalLevel(cfg.Level())
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "coupon-marketplace").Logger()
	zerolog.DefaultContextLogger = &log.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("service stopped")
	}
	log.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	pool, err := initDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	opts := []usecase.Option{
		usecase.WithRedemptionWindows(cfg.StoreWindow(), cfg.OnlineWindow()),
		usecase.WithClaimAttempts(cfg.ClaimAttempts()),
	}

	if rdb := config.NewRedisClient(ctx, cfg); rdb != nil {
		defer rdb.Close()
		opts = append(opts, usecase.WithCache(cache.NewListingCache(rdb, cfg.CacheTTL())))
	}

	var clients []*kgo.Client
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	brokers := cfg.Brokers()
	if cfg.PublishEvents() {
		producer, err := kgo.NewClient(kgo.SeedBrokers(brokers...), kgo.ClientID(cfg.KafkaClientID+"-events"))
		if err != nil {
			return fmt.Errorf("create events client: %w", err)
		}
		clients = append(clients, producer)
		opts = append(opts, usecase.WithPublisher(kafka.NewEventPublisher(producer)))
	}

	service := usecase.NewCouponService(repository.New(pool), opts...)

	g, ctx := errgroup.WithContext(ctx)

	var gateway usecase.CouponGateway = service
	if cfg.EventDriven() {
		requestClient, err := newConsumerClient(brokers, cfg.KafkaClientID, cfg.KafkaGroupID, kafka.RequestTopics...)
		if err != nil {
			return fmt.Errorf("create kafka client: %w", err)
		}
		clients = append(clients, requestClient)

		if err := kafka.EnsureTopics(ctx, requestClient, cfg); err != nil {
			log.Warn().Err(err).Msg("failed to ensure topics")
		}

		retryClient, err := newConsumerClient(brokers, cfg.KafkaClientID+"-retry", cfg.KafkaRetryGroupID, kafka.RetryTopics...)
		if err != nil {
			return fmt.Errorf("create retry kafka client: %w", err)
		}
		clients = append(clients, retryClient)

		replyClient, err := newReplyClient(brokers, cfg.KafkaClientID+"-reply", kafka.ReplyTopic(cfg.KafkaInstanceID))
		if err != nil {
			return fmt.Errorf("create reply kafka client: %w", err)
		}
		clients = append(clients, replyClient)

		kgateway := kafka.NewGateway(requestClient, cfg.KafkaInstanceID)
		gateway = kgateway

		consumer := kafka.NewConsumer(requestClient, service)
		retryConsumer := kafka.NewConsumer(retryClient, service)

		g.Go(func() error { consumer.Start(ctx); return nil })
		g.Go(func() error { retryConsumer.StartRetry(ctx); return nil })
		g.Go(func() error { kgateway.StartReplies(ctx, replyClient); return nil })

		<-consumer.Ready()
		log.Info().Strs("brokers", brokers).Str("instance", cfg.KafkaInstanceID).Msg("event-driven mode enabled")
	}

	if interval := cfg.Sweep(); interval > 0 {
		g.Go(func() error { return service.RunSweeper(ctx, interval) })
	}

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           newRouter(cfg, gateway),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("port", cfg.AppPort).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown error")
		}
		return nil
	})

	return g.Wait()
}

func newRouter(cfg *config.Config, gateway usecase.CouponGateway) http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(auth.NewJWTResolver(cfg.JWTSecret)))
		httphandler.NewHandler(gateway).Routes(r)
	})

	return r
}

func initDB(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf(
		"postgresql://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBSSLMode,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

func newConsumerClient(brokers []string, clientID, groupID string, topics ...string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
}

func newReplyClient(brokers []string, clientID, topic string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
}
