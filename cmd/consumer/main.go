// Package main starts the ledger consumer binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ibs-source/ledger-consumer/internal/config"
	"github.com/ibs-source/ledger-consumer/internal/consumer"
	"github.com/ibs-source/ledger-consumer/internal/ledger"
	"github.com/ibs-source/ledger-consumer/internal/ledger/postgres"
	"github.com/ibs-source/ledger-consumer/internal/ledger/sqlite"
	"github.com/ibs-source/ledger-consumer/internal/log"
	"github.com/ibs-source/ledger-consumer/internal/metrics"
	"github.com/ibs-source/ledger-consumer/internal/mqtt"
	"github.com/ibs-source/ledger-consumer/internal/ops"
	"github.com/ibs-source/ledger-consumer/internal/queue"
	"github.com/ibs-source/ledger-consumer/internal/rabbitmq"
	"github.com/ibs-source/ledger-consumer/internal/redis"
	"github.com/trickstertwo/xclock"
)

type services struct {
	store    ledger.Store
	queue    queue.Client
	notifier *mqtt.Client
	closers  []io.Closer
}

func run() int {
	logger := log.New()
	logger.Info("Starting ledger consumer")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		return 1
	}
	logConfig(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := initializeServices(ctx, cfg, logger)
	if err != nil {
		logger.Error("%v", err)
		return 1
	}
	defer closeServices(svc, logger)

	collector := metrics.NewCollector()

	var opsServer *ops.Server
	if cfg.Ops.Address != "" {
		checks := map[string]ops.Pinger{"store": svc.store}
		if p, ok := svc.queue.(ops.Pinger); ok {
			checks["queue"] = p
		}
		opsServer = ops.NewServer(cfg.Ops.Address, checks, collector.Handler(), logger)
		if err := opsServer.Start(); err != nil {
			logger.Error("Failed to start ops server: %v", err)
			return 1
		}
	}

	worker := newWorker(cfg, svc, collector, logger)

	logger.Info("Worker started")
	runErr := worker.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("Worker stopped: %v", runErr)
	} else {
		logger.Info("Shutdown signal received, stopping")
	}

	return shutdown(cfg, opsServer, runErr, logger)
}

func logConfig(cfg *config.Config, logger *log.Logger) {
	logger.Info("Configuration loaded successfully")
	switch cfg.Queue.Driver {
	case config.QueueRedis:
		logger.Info("Queue: redis %s, Stream: %s, DLQ: %s, Consumer: %s",
			cfg.Redis.Address, cfg.Redis.Stream, cfg.Redis.DeadLetterStream, cfg.Redis.Consumer)
	case config.QueueRabbitMQ:
		logger.Info("Queue: rabbitmq, Queue: %s, DLX: %s", cfg.RabbitMQ.Queue, cfg.RabbitMQ.DeadLetterExchange)
	}
	logger.Info("Store: %s", cfg.Store.Driver)
	if cfg.MQTT.Enabled {
		logger.Info("MQTT: %s, Disposition topic: %s", cfg.MQTT.Broker, cfg.MQTT.DispositionTopic)
	}
	logger.Info("Worker: retry delays %v, max deliveries %d", cfg.Worker.RetryDelays, cfg.Worker.MaxDeliveries)
}

func initializeServices(ctx context.Context, cfg *config.Config, logger *log.Logger) (*services, error) {
	svc := &services{}

	store, err := openStore(ctx, &cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	svc.store = store
	svc.closers = append(svc.closers, store)
	logger.Info("Connected to %s store", cfg.Store.Driver)

	q, err := openQueue(cfg, logger)
	if err != nil {
		closeServices(svc, logger)
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Queue.Driver, err)
	}
	svc.queue = q
	svc.closers = append(svc.closers, q)
	logger.Info("Connected to %s", cfg.Queue.Driver)

	if cfg.MQTT.Enabled {
		notifier, err := mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			closeServices(svc, logger)
			return nil, fmt.Errorf("failed to create MQTT client: %w", err)
		}
		svc.notifier = notifier
		svc.closers = append(svc.closers, notifier)
		logger.Info("Connected to MQTT broker")
	}

	return svc, nil
}

func openStore(ctx context.Context, cfg *config.StoreConfig) (ledger.Store, error) {
	switch cfg.Driver {
	case config.StorePostgres:
		connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		return postgres.New(connectCtx, cfg.DSN, int32(cfg.MaxConns))
	default:
		return sqlite.New(cfg.DSN)
	}
}

func openQueue(cfg *config.Config, logger *log.Logger) (queue.Client, error) {
	switch cfg.Queue.Driver {
	case config.QueueRabbitMQ:
		return rabbitmq.NewClient(&cfg.RabbitMQ, logger)
	default:
		return redis.NewClient(&cfg.Redis, logger)
	}
}

func newWorker(cfg *config.Config, svc *services, collector *metrics.Collector, logger *log.Logger) *consumer.Worker {
	clock := xclock.Default()
	processor := consumer.NewProcessor(svc.store, clock, logger)

	opts := []consumer.Option{
		consumer.WithMetrics(collector),
		consumer.WithClock(clock),
	}
	if svc.notifier != nil {
		opts = append(opts, consumer.WithNotifier(svc.notifier))
	}
	if cfg.Queue.Driver == config.QueueRedis {
		opts = append(opts, consumer.WithMaintenance(cfg.Redis.CleanupInterval))
	}
	return consumer.NewWorker(svc.queue, processor, &cfg.Worker, logger, opts...)
}

func closeServices(svc *services, logger *log.Logger) {
	// reverse order: notifier, queue, store
	for i := len(svc.closers) - 1; i >= 0; i-- {
		if err := svc.closers[i].Close(); err != nil {
			logger.Error("Error closing %T: %v", svc.closers[i], err)
		}
	}
	svc.closers = nil
}

func shutdown(cfg *config.Config, opsServer *ops.Server, runErr error, logger *log.Logger) int {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()

	if opsServer != nil {
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Ops server shutdown: %v", err)
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	logger.Info("Consumer stopped")
	return 0
}

func main() {
	// Keep main minimal to ensure defers in run() execute correctly.
	os.Exit(run())
}
