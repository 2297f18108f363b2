package config

import (
	"flag"
	"time"
)

// Command line flags (have precedence over environment variables)
var (
	flagQueueDriver *string

	// Redis flags
	flagRedisAddress         *string
	flagRedisStream          *string
	flagRedisDeadLetter      *string
	flagRedisConsumer        *string
	flagRedisPendingScan     *int
	flagRedisBlockTimeout    *time.Duration
	flagRedisClaimIdle       *time.Duration
	flagRedisConsumerIdle    *time.Duration
	flagRedisCleanupInterval *time.Duration

	// RabbitMQ flags
	flagRabbitURL   *string
	flagRabbitQueue *string

	// Store flags
	flagStoreDriver   *string
	flagStoreDSN      *string
	flagStoreMaxConns *int

	// MQTT flags
	flagMQTTEnabled          *bool
	flagMQTTBroker           *string
	flagMQTTClientID         *string
	flagMQTTDispositionTopic *string
	flagMQTTQoS              *int
	flagMQTTTLSEnabled       *bool
	flagMQTTCACert           *string
	flagMQTTClientCert       *string
	flagMQTTClientKey        *string
	flagMQTTTLSInsecureSkip  *bool
	// Prefix topics with client cert CN (for ACL constraints)
	flagMQTTUseCertCNPrefix *bool

	// Worker flags
	flagWorkerIdleInterval    *time.Duration
	flagWorkerErrorBackoff    *time.Duration
	flagWorkerRetryDelays     *string
	flagWorkerMaxDeliveries   *int
	flagWorkerProcessTimeout  *time.Duration
	flagWorkerShutdownTimeout *time.Duration

	flagOpsAddress *string
)

func init() {
	registerFlags()
}

// registerFlags defines every flag on flag.CommandLine
func registerFlags() {
	flagQueueDriver = flag.String("queue-driver", "", "Queue transport (redis or rabbitmq)")

	flagRedisAddress = flag.String("redis-address", "", "Redis address")
	flagRedisStream = flag.String("redis-stream", "", "Redis stream name")
	flagRedisDeadLetter = flag.String("redis-dead-letter-stream", "", "Redis dead-letter stream name")
	flagRedisConsumer = flag.String("redis-consumer", "", "Redis consumer name")
	flagRedisPendingScan = flag.Int("redis-pending-scan", 0, "Pending entries inspected per reclaim")
	flagRedisBlockTimeout = flag.Duration("redis-block-timeout", 0, "Redis block timeout")
	flagRedisClaimIdle = flag.Duration("redis-claim-idle", 0, "Redis claim idle time")
	flagRedisConsumerIdle = flag.Duration("redis-consumer-idle-timeout", 0, "Redis consumer idle timeout")
	flagRedisCleanupInterval = flag.Duration("redis-cleanup-interval", 0, "Redis cleanup interval")

	flagRabbitURL = flag.String("rabbitmq-url", "", "RabbitMQ URL")
	flagRabbitQueue = flag.String("rabbitmq-queue", "", "RabbitMQ queue name")

	flagStoreDriver = flag.String("store-driver", "", "Ledger store (sqlite or postgres)")
	flagStoreDSN = flag.String("store-dsn", "", "Ledger store DSN or file path")
	flagStoreMaxConns = flag.Int("store-max-conns", 0, "Ledger store max connections")

	flagMQTTEnabled = flag.Bool("mqtt-enabled", false, "Publish disposition events over MQTT")
	flagMQTTBroker = flag.String("mqtt-broker", "", "MQTT broker URL")
	flagMQTTClientID = flag.String("mqtt-client-id", "", "MQTT client ID")
	flagMQTTDispositionTopic = flag.String("mqtt-disposition-topic", "", "MQTT disposition topic")
	flagMQTTQoS = flag.Int("mqtt-qos", -1, "MQTT QoS (0, 1, or 2)")
	flagMQTTTLSEnabled = flag.Bool("mqtt-tls-enabled", false, "Enable MQTT TLS")
	flagMQTTCACert = flag.String("mqtt-ca-cert", "", "MQTT CA certificate path")
	flagMQTTClientCert = flag.String("mqtt-client-cert", "", "MQTT client certificate path")
	flagMQTTClientKey = flag.String("mqtt-client-key", "", "MQTT client key path")
	flagMQTTTLSInsecureSkip = flag.Bool("mqtt-tls-insecure-skip", false, "Skip MQTT TLS verification")
	flagMQTTUseCertCNPrefix = flag.Bool("mqtt-use-cert-cn-prefix", false, "Prefix topics with client cert CN")

	flagWorkerIdleInterval = flag.Duration("worker-idle-interval", 0, "Wait after an empty peek")
	flagWorkerErrorBackoff = flag.Duration("worker-error-backoff", 0, "Wait after a failed peek")
	flagWorkerRetryDelays = flag.String("worker-retry-delays", "", "Comma separated retry delays (e.g. 5s,25s,125s)")
	flagWorkerMaxDeliveries = flag.Int("worker-max-deliveries", -1, "Skip in-process retries after this many deliveries (0 disables)")
	flagWorkerProcessTimeout = flag.Duration("worker-process-timeout", 0, "Timeout for a single processing attempt")
	flagWorkerShutdownTimeout = flag.Duration("worker-shutdown-timeout", 0, "Graceful shutdown timeout")

	flagOpsAddress = flag.String("ops-address", "", "Health and metrics listen address")
}

func applyFlags(cfg *Config) {
	if *flagQueueDriver != "" {
		cfg.Queue.Driver = *flagQueueDriver
	}
	applyRedisFlags(&cfg.Redis)
	applyRabbitMQFlags(&cfg.RabbitMQ)
	applyStoreFlags(&cfg.Store)
	applyMQTTFlags(&cfg.MQTT)
	applyWorkerFlags(&cfg.Worker)
	if isFlagSet("ops-address") {
		cfg.Ops.Address = *flagOpsAddress
	}
}

// applyRedisFlags applies command line flags to Redis configuration
func applyRedisFlags(cfg *RedisConfig) {
	applyRedisFlagStrings(cfg)
	applyRedisFlagTimeouts(cfg)
	if *flagRedisPendingScan != 0 {
		cfg.PendingScan = *flagRedisPendingScan
	}
}

func applyRedisFlagStrings(cfg *RedisConfig) {
	if *flagRedisAddress != "" {
		cfg.Address = *flagRedisAddress
	}
	if *flagRedisStream != "" {
		cfg.Stream = *flagRedisStream
	}
	if *flagRedisDeadLetter != "" {
		cfg.DeadLetterStream = *flagRedisDeadLetter
	}
	if *flagRedisConsumer != "" {
		cfg.Consumer = *flagRedisConsumer
	}
}

func applyRedisFlagTimeouts(cfg *RedisConfig) {
	if *flagRedisBlockTimeout != 0 {
		cfg.BlockTimeout = *flagRedisBlockTimeout
	}
	if *flagRedisClaimIdle != 0 {
		cfg.ClaimIdle = *flagRedisClaimIdle
	}
	if *flagRedisConsumerIdle != 0 {
		cfg.ConsumerIdleTimeout = *flagRedisConsumerIdle
	}
	if *flagRedisCleanupInterval != 0 {
		cfg.CleanupInterval = *flagRedisCleanupInterval
	}
}

func applyRabbitMQFlags(cfg *RabbitMQConfig) {
	if *flagRabbitURL != "" {
		cfg.URL = *flagRabbitURL
	}
	if *flagRabbitQueue != "" {
		cfg.Queue = *flagRabbitQueue
	}
}

func applyStoreFlags(cfg *StoreConfig) {
	if *flagStoreDriver != "" {
		cfg.Driver = *flagStoreDriver
	}
	if *flagStoreDSN != "" {
		cfg.DSN = *flagStoreDSN
	}
	if *flagStoreMaxConns != 0 {
		cfg.MaxConns = *flagStoreMaxConns
	}
}

// applyMQTTFlags applies command line flags to MQTT configuration
func applyMQTTFlags(cfg *MQTTConfig) {
	applyMQTTFlagStrings(cfg)
	applyMQTTFlagTLS(cfg)
	applyMQTTFlagBools(cfg)
	if *flagMQTTQoS != -1 && *flagMQTTQoS >= 0 && *flagMQTTQoS <= 2 {
		cfg.QoS = byte(*flagMQTTQoS) // #nosec G115 - validated range 0-2
	}
}

func applyMQTTFlagStrings(cfg *MQTTConfig) {
	if *flagMQTTBroker != "" {
		cfg.Broker = *flagMQTTBroker
	}
	if *flagMQTTClientID != "" {
		cfg.ClientID = *flagMQTTClientID
	}
	if *flagMQTTDispositionTopic != "" {
		cfg.DispositionTopic = *flagMQTTDispositionTopic
	}
}

func applyMQTTFlagTLS(cfg *MQTTConfig) {
	if *flagMQTTCACert != "" {
		cfg.CACert = *flagMQTTCACert
	}
	if *flagMQTTClientCert != "" {
		cfg.ClientCert = *flagMQTTClientCert
	}
	if *flagMQTTClientKey != "" {
		cfg.ClientKey = *flagMQTTClientKey
	}
}

func applyMQTTFlagBools(cfg *MQTTConfig) {
	// Handle bool flags - check if explicitly set
	if isFlagSet("mqtt-enabled") {
		cfg.Enabled = *flagMQTTEnabled
	}
	if isFlagSet("mqtt-tls-enabled") {
		cfg.TLSEnabled = *flagMQTTTLSEnabled
	}
	if isFlagSet("mqtt-tls-insecure-skip") {
		cfg.InsecureSkip = *flagMQTTTLSInsecureSkip
	}
	if isFlagSet("mqtt-use-cert-cn-prefix") {
		cfg.UseCertCNPrefix = *flagMQTTUseCertCNPrefix
	}
}

func applyWorkerFlags(cfg *WorkerConfig) {
	if *flagWorkerIdleInterval != 0 {
		cfg.IdleInterval = *flagWorkerIdleInterval
	}
	if *flagWorkerErrorBackoff != 0 {
		cfg.ErrorBackoff = *flagWorkerErrorBackoff
	}
	if *flagWorkerRetryDelays != "" {
		if delays := parseDurationList(*flagWorkerRetryDelays); delays != nil {
			cfg.RetryDelays = delays
		}
	}
	if *flagWorkerMaxDeliveries >= 0 {
		cfg.MaxDeliveries = *flagWorkerMaxDeliveries
	}
	if *flagWorkerProcessTimeout != 0 {
		cfg.ProcessTimeout = *flagWorkerProcessTimeout
	}
	if *flagWorkerShutdownTimeout != 0 {
		cfg.ShutdownTimeout = *flagWorkerShutdownTimeout
	}
}

// isFlagSet checks if a flag was explicitly set on the command line
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
