// Package config provides configuration loading and validation from environment variables and command line flags.
package config

import "time"

// Queue and store drivers
const (
	QueueRedis    = "redis"
	QueueRabbitMQ = "rabbitmq"

	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds the complete configuration
type Config struct {
	Queue    QueueConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	Store    StoreConfig
	MQTT     MQTTConfig
	Worker   WorkerConfig
	Ops      OpsConfig
}

// QueueConfig selects the queue transport
type QueueConfig struct {
	Driver string
}

// RedisConfig holds Redis stream consumer configuration
type RedisConfig struct {
	Address             string
	Password            string
	DB                  int
	Stream              string
	DeadLetterStream    string // Defaults to "<stream>:dlq"
	Consumer            string // Defaults to "<hostname>-<pid>"
	PendingScan         int    // Pending entries inspected per reclaim attempt
	BlockTimeout        time.Duration
	ClaimIdle           time.Duration // Idle time before a pending entry is redelivered
	ConsumerIdleTimeout time.Duration
	CleanupInterval     time.Duration
	DialTimeout         time.Duration
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	PingTimeout         time.Duration
}

// RabbitMQConfig holds AMQP consumer configuration
type RabbitMQConfig struct {
	URL                string
	Queue              string
	DeadLetterExchange string
	DeadLetterQueue    string
	DeclareTopology    bool
}

// StoreConfig holds ledger store configuration
type StoreConfig struct {
	Driver         string
	DSN            string
	MaxConns       int
	ConnectTimeout time.Duration
}

// MQTTConfig holds the disposition event publisher configuration
type MQTTConfig struct {
	Enabled              bool
	Broker               string
	ClientID             string
	DispositionTopic     string
	QoS                  byte
	ConnectTimeout       time.Duration
	WriteTimeout         time.Duration
	MaxReconnectInterval time.Duration
	DisconnectTimeout    uint // Milliseconds for graceful disconnect
	// TLS Configuration
	TLSEnabled      bool
	CACert          string
	ClientCert      string
	ClientKey       string
	InsecureSkip    bool
	UseCertCNPrefix bool // If true, prefix topics with cert CN for ACL constraints
}

// WorkerConfig holds consumption loop settings
type WorkerConfig struct {
	IdleInterval    time.Duration   // Wait after an empty peek
	ErrorBackoff    time.Duration   // Wait after a failed peek
	RetryDelays     []time.Duration // Waits before each retry of a transient failure
	MaxDeliveries   int             // Past this many deliveries transient failures are abandoned without retrying; 0 disables
	ProcessTimeout  time.Duration   // Upper bound for one ledger transaction
	SettleTimeout   time.Duration   // Upper bound for complete/abandon/dead-letter calls
	ShutdownTimeout time.Duration
}

// OpsConfig holds the health and metrics endpoint settings
type OpsConfig struct {
	Address string // Empty disables the server
}
