package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/redstone/orderflow/internal/config"
	"github.com/redstone/orderflow/internal/eventlog"
	"github.com/redstone/orderflow/internal/httpapi"
	"github.com/redstone/orderflow/internal/logger"
	"github.com/redstone/orderflow/internal/order"
	"github.com/redstone/orderflow/internal/postgres"
	"github.com/redstone/orderflow/internal/tracing"
)

func main() {
	cfg, err := config.Load("order-service", "3000")
	if err != nil {
		log := logger.New("order-service")
		log.Error("invalid configuration", map[string]any{"err": err})
		os.Exit(1)
	}
	log := logger.New(cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("order service stopped", map[string]any{"err": err})
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	tc, err := tracing.Init(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = tc.Shutdown(context.Background()) }()

	if err := eventlog.Dial(ctx, cfg.KafkaBrokers, cfg.DialTimeout); err != nil {
		return err
	}
	if cfg.CreateTopics {
		specs := eventlog.Specs(cfg.IdempotencyTTL, cfg.Topics()...)
		if err := eventlog.EnsureTopics(ctx, cfg.KafkaBrokers, specs); err != nil {
			log.Warn("topic setup failed, relying on existing topics", map[string]any{"err": err})
		}
	}

	producer := eventlog.NewProducer(cfg.KafkaBrokers, cfg.KafkaClientID)
	defer producer.Close()

	var repo order.Repository = order.NewMemoryRepository()
	if cfg.DatabaseURL != "" {
		db, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		repo = order.NewPostgresRepository(db.Pool())
	}

	svc := order.NewService(repo, producer, cfg.TopicOrderCreated, log)
	health := httpapi.NewHealth(cfg.KafkaBrokers)
	srv := httpapi.NewServer(cfg.HTTPPort, httpapi.NewOrderRouter(svc, health, log, cfg.CORSOrigins))
	health.SetReady(true)
	log.Info("order service ready", map[string]any{
		"brokers": cfg.KafkaBrokers,
		"topic":   cfg.TopicOrderCreated,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpapi.Serve(gctx, srv, log) })
	return g.Wait()
}
