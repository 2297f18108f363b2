package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func loadFromEnv(cfg *Config) {
	if v := getEnvString("QUEUE_DRIVER"); v != "" {
		cfg.Queue.Driver = v
	}
	loadRedisFromEnv(&cfg.Redis)
	loadRabbitMQFromEnv(&cfg.RabbitMQ)
	loadStoreFromEnv(&cfg.Store)
	loadMQTTFromEnv(&cfg.MQTT)
	loadWorkerFromEnv(&cfg.Worker)
	if v, ok := os.LookupEnv("OPS_ADDRESS"); ok {
		cfg.Ops.Address = v
	}
}

// loadRedisFromEnv loads Redis configuration from environment variables
func loadRedisFromEnv(cfg *RedisConfig) {
	loadRedisStrings(cfg)
	loadRedisInts(cfg)
	loadRedisTimeouts(cfg)
}

func loadRedisStrings(cfg *RedisConfig) {
	if v := getEnvString("REDIS_ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := getEnvString("REDIS_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := getEnvString("REDIS_STREAM"); v != "" {
		cfg.Stream = v
	}
	if v := getEnvString("REDIS_DEAD_LETTER_STREAM"); v != "" {
		cfg.DeadLetterStream = v
	}
	if v := getEnvString("REDIS_CONSUMER"); v != "" {
		cfg.Consumer = v
	}
}

func loadRedisInts(cfg *RedisConfig) {
	if v := getEnvInt("REDIS_DB"); v != 0 {
		cfg.DB = v
	}
	if v := getEnvInt("REDIS_PENDING_SCAN"); v != 0 {
		cfg.PendingScan = v
	}
}

func loadRedisTimeouts(cfg *RedisConfig) {
	if v := getEnvDuration("REDIS_BLOCK_TIMEOUT"); v != 0 {
		cfg.BlockTimeout = v
	}
	if v := getEnvDuration("REDIS_CLAIM_IDLE"); v != 0 {
		cfg.ClaimIdle = v
	}
	if v := getEnvDuration("REDIS_CONSUMER_IDLE_TIMEOUT"); v != 0 {
		cfg.ConsumerIdleTimeout = v
	}
	if v := getEnvDuration("REDIS_CLEANUP_INTERVAL"); v != 0 {
		cfg.CleanupInterval = v
	}
	if v := getEnvDuration("REDIS_DIAL_TIMEOUT"); v != 0 {
		cfg.DialTimeout = v
	}
	if v := getEnvDuration("REDIS_READ_TIMEOUT"); v != 0 {
		cfg.ReadTimeout = v
	}
	if v := getEnvDuration("REDIS_WRITE_TIMEOUT"); v != 0 {
		cfg.WriteTimeout = v
	}
	if v := getEnvDuration("REDIS_PING_TIMEOUT"); v != 0 {
		cfg.PingTimeout = v
	}
}

func loadRabbitMQFromEnv(cfg *RabbitMQConfig) {
	if v := getEnvString("RABBITMQ_URL"); v != "" {
		cfg.URL = v
	}
	if v := getEnvString("RABBITMQ_QUEUE"); v != "" {
		cfg.Queue = v
	}
	if v := getEnvString("RABBITMQ_DEAD_LETTER_EXCHANGE"); v != "" {
		cfg.DeadLetterExchange = v
	}
	if v := getEnvString("RABBITMQ_DEAD_LETTER_QUEUE"); v != "" {
		cfg.DeadLetterQueue = v
	}
	if v, ok := lookupEnvBool("RABBITMQ_DECLARE_TOPOLOGY"); ok {
		cfg.DeclareTopology = v
	}
}

func loadStoreFromEnv(cfg *StoreConfig) {
	if v := getEnvString("STORE_DRIVER"); v != "" {
		cfg.Driver = v
	}
	if v := getEnvString("STORE_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := getEnvInt("STORE_MAX_CONNS"); v != 0 {
		cfg.MaxConns = v
	}
	if v := getEnvDuration("STORE_CONNECT_TIMEOUT"); v != 0 {
		cfg.ConnectTimeout = v
	}
}

// loadMQTTFromEnv loads MQTT configuration from environment variables
func loadMQTTFromEnv(cfg *MQTTConfig) {
	loadMQTTStrings(cfg)
	loadMQTTInts(cfg)
	loadMQTTTimeouts(cfg)
	loadMQTTBools(cfg)
}

func loadMQTTStrings(cfg *MQTTConfig) {
	if v := getEnvString("MQTT_BROKER"); v != "" {
		cfg.Broker = v
	}
	if v := getEnvString("MQTT_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := getEnvString("MQTT_DISPOSITION_TOPIC"); v != "" {
		cfg.DispositionTopic = v
	}
	if v := getEnvString("MQTT_CA_CERT"); v != "" {
		cfg.CACert = v
	}
	if v := getEnvString("MQTT_CLIENT_CERT"); v != "" {
		cfg.ClientCert = v
	}
	if v := getEnvString("MQTT_CLIENT_KEY"); v != "" {
		cfg.ClientKey = v
	}
}

func loadMQTTInts(cfg *MQTTConfig) {
	if v, ok := lookupEnvInt("MQTT_QOS"); ok && v >= 0 && v <= 2 {
		cfg.QoS = byte(v) // #nosec G115 - validated range 0-2
	}
	if v := getEnvInt("MQTT_DISCONNECT_TIMEOUT"); v > 0 {
		cfg.DisconnectTimeout = uint(v) // #nosec G115 - checked positive
	}
}

func loadMQTTTimeouts(cfg *MQTTConfig) {
	if v := getEnvDuration("MQTT_CONNECT_TIMEOUT"); v != 0 {
		cfg.ConnectTimeout = v
	}
	if v := getEnvDuration("MQTT_WRITE_TIMEOUT"); v != 0 {
		cfg.WriteTimeout = v
	}
	if v := getEnvDuration("MQTT_MAX_RECONNECT_INTERVAL"); v != 0 {
		cfg.MaxReconnectInterval = v
	}
}

func loadMQTTBools(cfg *MQTTConfig) {
	if v, ok := lookupEnvBool("MQTT_ENABLED"); ok {
		cfg.Enabled = v
	}
	if v, ok := lookupEnvBool("MQTT_TLS_ENABLED"); ok {
		cfg.TLSEnabled = v
	}
	if v, ok := lookupEnvBool("MQTT_TLS_INSECURE_SKIP"); ok {
		cfg.InsecureSkip = v
	}
	if v, ok := lookupEnvBool("MQTT_USE_CERT_CN_PREFIX"); ok {
		cfg.UseCertCNPrefix = v
	}
}

func loadWorkerFromEnv(cfg *WorkerConfig) {
	if v := getEnvDuration("WORKER_IDLE_INTERVAL"); v != 0 {
		cfg.IdleInterval = v
	}
	if v := getEnvDuration("WORKER_ERROR_BACKOFF"); v != 0 {
		cfg.ErrorBackoff = v
	}
	if v := getEnvDurationList("WORKER_RETRY_DELAYS"); v != nil {
		cfg.RetryDelays = v
	}
	if v, ok := lookupEnvInt("WORKER_MAX_DELIVERIES"); ok {
		cfg.MaxDeliveries = v
	}
	if v := getEnvDuration("WORKER_PROCESS_TIMEOUT"); v != 0 {
		cfg.ProcessTimeout = v
	}
	if v := getEnvDuration("WORKER_SETTLE_TIMEOUT"); v != 0 {
		cfg.SettleTimeout = v
	}
	if v := getEnvDuration("WORKER_SHUTDOWN_TIMEOUT"); v != 0 {
		cfg.ShutdownTimeout = v
	}
}

// Helper functions for reading environment variables

func getEnvString(key string) string {
	return os.Getenv(key)
}

func getEnvInt(key string) int {
	v, _ := lookupEnvInt(key)
	return v
}

func lookupEnvInt(key string) (int, bool) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return intValue, true
}

func getEnvDuration(key string) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return duration
}

// getEnvDurationList parses "5s,25s,125s"; nil if unset or malformed
func getEnvDurationList(key string) []time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	return parseDurationList(value)
}

func parseDurationList(value string) []time.Duration {
	parts := strings.Split(value, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil {
			return nil
		}
		out = append(out, d)
	}
	return out
}

func lookupEnvBool(key string) (bool, bool) {
	value := os.Getenv(key)
	if value == "" {
		return false, false
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false
	}
	return b, true
}
