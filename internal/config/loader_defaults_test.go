package config

import (
	"testing"
	"time"
)

func TestDefaultRedisConfig(t *testing.T) {
	cfg := defaultRedisConfig()

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"Address", cfg.Address, "localhost:6379"},
		{"Stream", cfg.Stream, "ledger-transactions"},
		{"DeadLetterStream", cfg.DeadLetterStream, ""},
		{"Consumer", cfg.Consumer, ""},
		{"PendingScan", cfg.PendingScan, 10},
		{"BlockTimeout", cfg.BlockTimeout, 2 * time.Second},
		{"ClaimIdle", cfg.ClaimIdle, 30 * time.Second},
		{"ConsumerIdleTimeout", cfg.ConsumerIdleTimeout, 1 * time.Hour},
		{"CleanupInterval", cfg.CleanupInterval, 5 * time.Minute},
		{"DialTimeout", cfg.DialTimeout, 10 * time.Second},
		{"ReadTimeout", cfg.ReadTimeout, 10 * time.Second},
		{"WriteTimeout", cfg.WriteTimeout, 5 * time.Second},
		{"PingTimeout", cfg.PingTimeout, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("defaultRedisConfig().%s = %v; want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestDefaultRabbitMQConfig(t *testing.T) {
	cfg := defaultRabbitMQConfig()

	if cfg.Queue != "ledger.transactions" {
		t.Errorf("Queue = %s; want ledger.transactions", cfg.Queue)
	}
	if cfg.DeadLetterExchange != "ledger.transactions.dlx" {
		t.Errorf("DeadLetterExchange = %s; want ledger.transactions.dlx", cfg.DeadLetterExchange)
	}
	if cfg.DeadLetterQueue != "ledger.transactions.dlq" {
		t.Errorf("DeadLetterQueue = %s; want ledger.transactions.dlq", cfg.DeadLetterQueue)
	}
	if !cfg.DeclareTopology {
		t.Error("DeclareTopology = false; want true")
	}
}

func TestDefaultStoreConfig(t *testing.T) {
	cfg := defaultStoreConfig()

	if cfg.Driver != StoreSQLite {
		t.Errorf("Driver = %s; want %s", cfg.Driver, StoreSQLite)
	}
	if cfg.DSN != "ledger.db" {
		t.Errorf("DSN = %s; want ledger.db", cfg.DSN)
	}
	if cfg.MaxConns != 4 {
		t.Errorf("MaxConns = %d; want 4", cfg.MaxConns)
	}
}

func TestDefaultMQTTConfig(t *testing.T) {
	cfg := defaultMQTTConfig()

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"Enabled", cfg.Enabled, false},
		{"Broker", cfg.Broker, "tcp://localhost:1883"},
		{"ClientID", cfg.ClientID, "ledger-consumer"},
		{"DispositionTopic", cfg.DispositionTopic, "ledger/dispositions"},
		{"QoS", cfg.QoS, byte(1)},
		{"ConnectTimeout", cfg.ConnectTimeout, 10 * time.Second},
		{"WriteTimeout", cfg.WriteTimeout, 5 * time.Second},
		{"MaxReconnectInterval", cfg.MaxReconnectInterval, 10 * time.Second},
		{"DisconnectTimeout", cfg.DisconnectTimeout, uint(1000)},
		{"TLSEnabled", cfg.TLSEnabled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("defaultMQTTConfig().%s = %v; want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestDefaultWorkerConfig(t *testing.T) {
	cfg := defaultWorkerConfig()

	want := []time.Duration{5 * time.Second, 25 * time.Second, 125 * time.Second}
	if len(cfg.RetryDelays) != len(want) {
		t.Fatalf("RetryDelays = %v; want %v", cfg.RetryDelays, want)
	}
	for i := range want {
		if cfg.RetryDelays[i] != want[i] {
			t.Errorf("RetryDelays[%d] = %v; want %v", i, cfg.RetryDelays[i], want[i])
		}
	}
	if cfg.IdleInterval != 10*time.Second {
		t.Errorf("IdleInterval = %v; want 10s", cfg.IdleInterval)
	}
	if cfg.MaxDeliveries != 0 {
		t.Errorf("MaxDeliveries = %d; want 0 (disabled)", cfg.MaxDeliveries)
	}
}

func TestDefaultWorkerConfig_RetryDelaysNotShared(t *testing.T) {
	cfg := defaultWorkerConfig()
	cfg.RetryDelays[0] = time.Millisecond

	if DefaultRetryDelays[0] != 5*time.Second {
		t.Errorf("DefaultRetryDelays[0] = %v; mutation leaked from config", DefaultRetryDelays[0])
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Queue.Driver != QueueRedis {
		t.Errorf("Queue.Driver = %s; want %s", cfg.Queue.Driver, QueueRedis)
	}
	if cfg.Ops.Address != ":9090" {
		t.Errorf("Ops.Address = %s; want :9090", cfg.Ops.Address)
	}
}
