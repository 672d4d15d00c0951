package runtime

import (
	"crypto/tls"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/InsulaLabs/hmacfs/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeneratesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "hmacfs.yaml")
	_, err := New([]string{"--new-cfg", path}, "")
	require.ErrorIs(t, err, ErrConfigGenerated)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.EngineBadger, cfg.Engine.Type)
}

func TestNewLoadsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hmacfs.yaml")
	_, err := New([]string{"--new-cfg", path}, "")
	require.ErrorIs(t, err, ErrConfigGenerated)

	r, err := New([]string{"--config", path}, "")
	require.NoError(t, err)
	defer r.Stop()
	assert.Equal(t, slog.LevelInfo, r.currentLogLevel)
	assert.Equal(t, "127.0.0.1:7401", r.Config().HTTP.Binding)

	_, err = New([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, "")
	assert.ErrorIs(t, err, config.ErrConfigFileUnreadable)

	_, err = New([]string{"--bogus"}, "")
	assert.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("chatty"))
}

func TestGenerateSelfSigned(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "keys", "server.crt")
	keyPath := filepath.Join(dir, "keys", "server.key")

	require.NoError(t, generateSelfSigned(certPath, keyPath, "10.1.2.3:7401", time.Now()))

	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	require.NoError(t, err)
	require.NotEmpty(t, pair.Certificate)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestCertHosts(t *testing.T) {
	names, ips := certHosts("files.example.com:443")
	assert.Equal(t, []string{"localhost", "files.example.com"}, names)
	assert.Len(t, ips, 2)

	names, ips = certHosts("0.0.0.0:7401")
	assert.Equal(t, []string{"localhost"}, names)
	assert.Len(t, ips, 2)

	_, ips = certHosts("192.168.1.5:7401")
	assert.Len(t, ips, 3)
}
