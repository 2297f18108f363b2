package config

import (
	"fmt"
	"strings"
)

// Validate checks configuration constraints
func Validate(cfg *Config) error {
	if err := validateQueue(cfg); err != nil {
		return err
	}
	if err := validateStore(&cfg.Store); err != nil {
		return err
	}
	if err := validateMQTT(&cfg.MQTT); err != nil {
		return err
	}
	return validateWorker(&cfg.Worker)
}

func validateQueue(cfg *Config) error {
	switch cfg.Queue.Driver {
	case QueueRedis:
		return validateRedis(&cfg.Redis)
	case QueueRabbitMQ:
		return validateRabbitMQ(&cfg.RabbitMQ)
	default:
		return fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
}

// validateRedis validates Redis configuration
func validateRedis(cfg *RedisConfig) error {
	if cfg.Address == "" {
		return fmt.Errorf("redis address cannot be empty")
	}
	if cfg.Stream == "" {
		return fmt.Errorf("redis stream cannot be empty")
	}
	if cfg.Consumer == "" {
		return fmt.Errorf("redis consumer name cannot be empty")
	}
	if cfg.DeadLetterStream == cfg.Stream {
		return fmt.Errorf("redis dead-letter stream must differ from the source stream")
	}
	if cfg.PendingScan < 1 {
		return fmt.Errorf("redis pending scan must be positive")
	}
	if cfg.ClaimIdle < 0 {
		return fmt.Errorf("redis claim idle cannot be negative")
	}
	return nil
}

func validateRabbitMQ(cfg *RabbitMQConfig) error {
	if cfg.URL == "" {
		return fmt.Errorf("rabbitmq url cannot be empty")
	}
	if cfg.Queue == "" {
		return fmt.Errorf("rabbitmq queue cannot be empty")
	}
	if cfg.DeclareTopology && (cfg.DeadLetterExchange == "" || cfg.DeadLetterQueue == "") {
		return fmt.Errorf("rabbitmq dead-letter exchange and queue are required to declare topology")
	}
	return nil
}

func validateStore(cfg *StoreConfig) error {
	switch cfg.Driver {
	case StoreSQLite, StorePostgres:
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return fmt.Errorf("store dsn cannot be empty")
	}
	if cfg.MaxConns < 1 {
		return fmt.Errorf("store max conns must be positive")
	}
	return nil
}

// validateMQTT validates MQTT configuration; skipped when disabled
func validateMQTT(cfg *MQTTConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Broker == "" {
		return fmt.Errorf("mqtt broker cannot be empty")
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("mqtt client ID cannot be empty")
	}
	if cfg.DispositionTopic == "" {
		return fmt.Errorf("mqtt disposition topic cannot be empty")
	}
	if cfg.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	return nil
}

func validateWorker(cfg *WorkerConfig) error {
	for i, d := range cfg.RetryDelays {
		if d <= 0 {
			return fmt.Errorf("worker retry delay %d must be positive", i)
		}
	}
	if cfg.MaxDeliveries < 0 {
		return fmt.Errorf("worker max deliveries cannot be negative")
	}
	if cfg.ProcessTimeout <= 0 {
		return fmt.Errorf("worker process timeout must be positive")
	}
	if cfg.SettleTimeout <= 0 {
		return fmt.Errorf("worker settle timeout must be positive")
	}
	if cfg.IdleInterval < 0 || cfg.ErrorBackoff < 0 {
		return fmt.Errorf("worker wait intervals cannot be negative")
	}
	return nil
}
