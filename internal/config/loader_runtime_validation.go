package config

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// applyRuntimeValidation applies runtime validations and transformations
func applyRuntimeValidation(cfg *Config) error {
	applyRedisDerived(&cfg.Redis)
	return applyTopicPrefix(cfg)
}

// applyRedisDerived fills names that depend on other settings or the host
func applyRedisDerived(cfg *RedisConfig) {
	if cfg.DeadLetterStream == "" && cfg.Stream != "" {
		cfg.DeadLetterStream = cfg.Stream + ":dlq"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = defaultConsumerName()
	}
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "consumer"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// applyTopicPrefix prefixes the disposition topic with certificate CN if configured
func applyTopicPrefix(cfg *Config) error {
	if cfg.MQTT.Enabled && cfg.MQTT.UseCertCNPrefix && cfg.MQTT.ClientCert != "" {
		cn, err := extractCNFromCertFile(cfg.MQTT.ClientCert)
		if err != nil {
			return fmt.Errorf("failed to extract CN from certificate: %w", err)
		}
		cfg.MQTT.DispositionTopic = cn + "/" + cfg.MQTT.DispositionTopic
	}
	return nil
}

// extractCNFromCertFile extracts the CN from a PEM certificate file
func extractCNFromCertFile(certPath string) (string, error) {
	certPEM, err := os.ReadFile(certPath) // #nosec G304 - certPath is from config, not user input
	if err != nil {
		return "", fmt.Errorf("failed to read certificate: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return "", fmt.Errorf("failed to decode PEM certificate")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}

	if cert.Subject.CommonName == "" {
		return "", fmt.Errorf("certificate has no CN")
	}

	return cert.Subject.CommonName, nil
}
