package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	cfg, err := Setup(Config{CertFile: "ignored"})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestSetupWithoutCertificate(t *testing.T) {
	_, err := Setup(Config{Enabled: true})
	assert.ErrorIs(t, err, ErrNoCertificate)

	_, err = Setup(Config{Enabled: true, Dir: t.TempDir()})
	assert.ErrorIs(t, err, ErrNoCertificate, "dir without auto_generate and no files")
}

func TestSetupAutoGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	cfg, err := Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true, Hosts: []string{"scanner.local", "10.0.0.5"}})
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)

	assert.FileExists(t, filepath.Join(dir, tlsCrt))
	info, err := os.Stat(filepath.Join(dir, tlsKey))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, "scanner.local", leaf.Subject.CommonName)
	assert.Equal(t, []string{"scanner.local"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "10.0.0.5", leaf.IPAddresses[0].String())
	assert.True(t, leaf.NotAfter.After(time.Now().AddDate(0, 0, 364)))

	// existing pair is reused
	before, err := os.ReadFile(filepath.Join(dir, tlsCrt))
	require.NoError(t, err)
	_, err = Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true})
	require.NoError(t, err)
	after, err := os.ReadFile(filepath.Join(dir, tlsCrt))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSetupExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := filepath.Join(dir, "a.crt"), filepath.Join(dir, "a.key")
	require.NoError(t, GenerateSelfSigned(CertConfig{
		CommonName: "localhost",
		Hosts:      []string{"localhost"},
		NotAfter:   time.Now().Add(time.Hour),
		CertPath:   certPath,
		KeyPath:    keyPath,
	}))

	cfg, err := Setup(Config{Enabled: true, CertFile: certPath, KeyFile: keyPath, MinVersion: "1.2"})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	_, err = cfg.GetCertificate(&tls.ClientHelloInfo{})
	assert.NoError(t, err)

	_, err = Setup(Config{Enabled: true, CertFile: filepath.Join(dir, "missing.crt"), KeyFile: keyPath})
	assert.ErrorIs(t, err, ErrNoCertificate)
}
