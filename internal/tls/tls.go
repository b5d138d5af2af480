// Package tls builds the viewer's TLS configuration from certificate files,
// generating a self-signed pair on first use when asked to.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	tlsCrt = "tls.crt"
	tlsKey = "tls.key"
)

var ErrNoCertificate = errors.New("tls enabled but no certificate configured")

// Config is the server.tls configuration section.
type Config struct {
	Enabled      bool   `mapstructure:"enabled"`
	CertFile     string `mapstructure:"cert_file" validate:"required_with=KeyFile"`
	KeyFile      string `mapstructure:"key_file" validate:"required_with=CertFile"`
	Dir          string `mapstructure:"dir"`
	AutoGenerate bool   `mapstructure:"auto_generate"`
	MinVersion   string `mapstructure:"min_version" validate:"omitempty,oneof=1.2 1.3"`
	// Hosts are the DNS names and IPs of a generated certificate.
	Hosts     []string `mapstructure:"hosts"`
	ValidDays int      `mapstructure:"valid_days" validate:"gte=0"`
}

func parseVersion(ver string) uint16 {
	if ver == "1.2" {
		return tls.VersionTLS12
	}
	return tls.VersionTLS13
}

// Setup returns the server TLS configuration, or nil when TLS is disabled.
// Explicit cert and key files win over Dir. With AutoGenerate a missing
// pair in Dir is generated.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	certPath, keyPath := c.CertFile, c.KeyFile
	if certPath == "" || keyPath == "" {
		if c.Dir == "" {
			return nil, ErrNoCertificate
		}
		certPath = filepath.Join(c.Dir, tlsCrt)
		keyPath = filepath.Join(c.Dir, tlsKey)
		if c.AutoGenerate && !exists(certPath, keyPath) {
			if err := generate(c, certPath, keyPath); err != nil {
				return nil, fmt.Errorf("generate certificate: %w", err)
			}
		}
	}
	if !exists(certPath, keyPath) {
		return nil, fmt.Errorf("%w: %s and %s must both exist", ErrNoCertificate, certPath, keyPath)
	}
	// #nosec G402 -- minimum version is TLS 1.2 or later
	return &tls.Config{
		GetCertificate: certificateFunc(certPath, keyPath),
		MinVersion:     parseVersion(c.MinVersion),
	}, nil
}

// certificateFunc reloads the pair on each handshake so rotated files are
// picked up without a restart.
func certificateFunc(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(certPath), filepath.Clean(keyPath))
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func generate(c Config, certPath, keyPath string) error {
	if err := os.MkdirAll(filepath.Dir(certPath), 0o700); err != nil {
		return err
	}
	hosts := c.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	days := c.ValidDays
	if days <= 0 {
		days = 365
	}
	return GenerateSelfSigned(CertConfig{
		CommonName: hosts[0],
		Hosts:      hosts,
		NotAfter:   time.Now().AddDate(0, 0, days),
		CertPath:   certPath,
		KeyPath:    keyPath,
	})
}
