package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/redstone/orderflow/internal/config"
	"github.com/redstone/orderflow/internal/deadletter"
	"github.com/redstone/orderflow/internal/eventlog"
	"github.com/redstone/orderflow/internal/httpapi"
	"github.com/redstone/orderflow/internal/idempotency"
	"github.com/redstone/orderflow/internal/logger"
	"github.com/redstone/orderflow/internal/postgres"
	"github.com/redstone/orderflow/internal/shipping"
	"github.com/redstone/orderflow/internal/tracing"
)

func main() {
	cfg, err := config.Load("shipping-service", "3001")
	if err != nil {
		log := logger.New("shipping-service")
		log.Error("invalid configuration", map[string]any{"err": err})
		os.Exit(1)
	}
	log := logger.New(cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("shipping service stopped", map[string]any{"err": err})
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

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	producer := eventlog.NewProducer(cfg.KafkaBrokers, cfg.KafkaClientID)
	defer producer.Close()
	consumer := eventlog.NewConsumer(cfg.KafkaBrokers, cfg.KafkaClientID, log)

	proc := shipping.NewProcessor(
		store,
		producer,
		deadletter.NewRouter(producer, cfg.TopicDLQ, log),
		cfg.TopicShipping,
		log,
		shipping.WithProcessingDelay(cfg.ProcessingDelay),
		shipping.WithDeliveryOffset(cfg.DeliveryOffset),
	)

	health := httpapi.NewHealth(cfg.KafkaBrokers)
	srv := httpapi.NewServer(cfg.HTTPPort, httpapi.NewHealthRouter(health, log))
	health.SetReady(true)
	log.Info("shipping service ready", map[string]any{
		"topic":       cfg.TopicOrderCreated,
		"group":       cfg.GroupID,
		"idempotency": cfg.IdempotencyBackend,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpapi.Serve(gctx, srv, log) })
	g.Go(func() error {
		// A handler error leaves the offset uncommitted; exiting lets the
		// supervisor restart us and the message is redelivered.
		if err := consumer.Subscribe(gctx, cfg.TopicOrderCreated, cfg.GroupID, proc.Handle); err != nil {
			health.SetReady(false)
			return fmt.Errorf("consumer stopped: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config) (idempotency.Store, func(), error) {
	switch cfg.IdempotencyBackend {
	case config.BackendRedis:
		rdb, err := idempotency.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return idempotency.NewRedis(rdb, cfg.IdempotencyTTL), func() { _ = rdb.Close() }, nil
	case config.BackendPostgres:
		db, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return idempotency.NewPostgres(db.Pool(), cfg.IdempotencyTTL), db.Close, nil
	default:
		return idempotency.NewMemory(cfg.IdempotencyTTL), func() {}, nil
	}
}
