package mqtt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"io"
	"testing"
	"time"

	"github.com/ibs-source/ledger-consumer/internal/config"
	"github.com/ibs-source/ledger-consumer/internal/log"
)

type certFiles struct {
	ca   string
	cert string
	key  string
}

// writeCertFiles writes a self-signed certificate, usable as both CA and
// client certificate, and its key.
func writeCertFiles(t *testing.T) certFiles {
	t.Helper()
	dir := t.TempDir()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(42),
		Subject:               pkix.Name{CommonName: "ledger-consumer"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey: %v", err)
	}

	files := certFiles{
		ca:   filepath.Join(dir, "authority.pem"),
		cert: filepath.Join(dir, "certificate.pem"),
		key:  filepath.Join(dir, "key.pem"),
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	writeFile(t, files.ca, certPEM)
	writeFile(t, files.cert, certPEM)
	writeFile(t, files.key, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	return files
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("WriteFile %s: %v", path, err)
	}
}

func TestNewTLSConfig(t *testing.T) {
	files := writeCertFiles(t)
	notPEM := filepath.Join(t.TempDir(), "README.md")
	writeFile(t, notPEM, []byte("# not a certificate"))

	tests := []struct {
		name        string
		cfg         config.MQTTConfig
		wantErr     bool
		wantRootCAs bool
		wantCerts   bool
		wantSkip    bool
	}{
		{name: "ca only", cfg: config.MQTTConfig{CACert: files.ca}, wantRootCAs: true},
		{name: "ca and client cert", cfg: config.MQTTConfig{CACert: files.ca, ClientCert: files.cert, ClientKey: files.key}, wantRootCAs: true, wantCerts: true},
		{name: "client cert without ca", cfg: config.MQTTConfig{ClientCert: files.cert, ClientKey: files.key}, wantCerts: true},
		{name: "system roots", cfg: config.MQTTConfig{}},
		{name: "insecure skip", cfg: config.MQTTConfig{InsecureSkip: true}, wantSkip: true},
		{name: "missing ca", cfg: config.MQTTConfig{CACert: "/nonexistent/ca.crt"}, wantErr: true},
		{name: "corrupted ca", cfg: config.MQTTConfig{CACert: notPEM}, wantErr: true},
		{name: "missing client cert", cfg: config.MQTTConfig{ClientCert: "/nonexistent/client.crt", ClientKey: "/nonexistent/client.key"}, wantErr: true},
		{name: "mismatched key path", cfg: config.MQTTConfig{ClientCert: files.cert, ClientKey: "/nonexistent/key.pem"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.TLSEnabled = true
			tlsConfig, err := newTLSConfig(&tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("newTLSConfig() error = nil; want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newTLSConfig() error = %v", err)
			}
			if (tlsConfig.RootCAs != nil) != tt.wantRootCAs {
				t.Errorf("RootCAs set = %v; want %v", tlsConfig.RootCAs != nil, tt.wantRootCAs)
			}
			if (len(tlsConfig.Certificates) > 0) != tt.wantCerts {
				t.Errorf("Certificates loaded = %v; want %v", len(tlsConfig.Certificates) > 0, tt.wantCerts)
			}
			if tlsConfig.InsecureSkipVerify != tt.wantSkip {
				t.Errorf("InsecureSkipVerify = %v; want %v", tlsConfig.InsecureSkipVerify, tt.wantSkip)
			}
		})
	}
}

func TestClientOptions(t *testing.T) {
	cfg := &config.MQTTConfig{
		Broker:               "tcp://broker:1883",
		ClientID:             "ledger-consumer-1",
		ConnectTimeout:       3 * time.Second,
		WriteTimeout:         2 * time.Second,
		MaxReconnectInterval: time.Minute,
	}

	opts, err := clientOptions(cfg, log.NewWithOutput(io.Discard))
	if err != nil {
		t.Fatalf("clientOptions() error = %v", err)
	}
	if len(opts.Servers) != 1 || opts.Servers[0].Host != "broker:1883" {
		t.Errorf("Servers = %v; want [tcp://broker:1883]", opts.Servers)
	}
	if opts.ClientID != "ledger-consumer-1" {
		t.Errorf("ClientID = %s", opts.ClientID)
	}
	if opts.ConnectTimeout != 3*time.Second || opts.WriteTimeout != 2*time.Second {
		t.Errorf("timeouts = %s/%s", opts.ConnectTimeout, opts.WriteTimeout)
	}
	if !opts.AutoReconnect || opts.MaxReconnectInterval != time.Minute {
		t.Errorf("reconnect = %v/%s", opts.AutoReconnect, opts.MaxReconnectInterval)
	}
	if opts.Order {
		t.Error("Order = true; want false")
	}
	if opts.TLSConfig != nil && opts.TLSConfig.RootCAs != nil {
		t.Error("TLS configured while disabled")
	}
}

func TestClientOptions_TLS(t *testing.T) {
	files := writeCertFiles(t)
	cfg := &config.MQTTConfig{Broker: "ssl://broker:8883", TLSEnabled: true, CACert: files.ca}

	opts, err := clientOptions(cfg, log.NewWithOutput(io.Discard))
	if err != nil {
		t.Fatalf("clientOptions() error = %v", err)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.RootCAs == nil {
		t.Error("TLS root CAs not applied")
	}

	cfg.CACert = "/nonexistent/ca.crt"
	if _, err := clientOptions(cfg, log.NewWithOutput(io.Discard)); err == nil {
		t.Error("clientOptions() error = nil for a missing CA file")
	}
}
