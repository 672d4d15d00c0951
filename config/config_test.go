package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, cfg *Config) string {
	t.Helper()
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), "hmacfs.yaml")
	require.NoError(t, os.WriteFile(p, data, 0600))
	return p
}

func TestGenerateConfigIsValid(t *testing.T) {
	cfg, err := GenerateConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	loaded, err := LoadConfig(writeConfig(t, cfg))
	require.NoError(t, err)
	assert.Equal(t, cfg.Engine.Timeout, loaded.Engine.Timeout)
	assert.Equal(t, cfg.RateLimiter.ClientTTL, loaded.RateLimiter.ClientTTL)
	assert.Equal(t, filepath.Join("data/hmacfs", BadgerDirName), loaded.BadgerDir())
}

func TestLoadConfigFileErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigFileUnreadable)

	p := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(p, []byte("engine: [not, a, map"), 0600))
	_, err = LoadConfig(p)
	assert.ErrorIs(t, err, ErrConfigFileUnmarshallable)
}

func TestLoadConfigDurations(t *testing.T) {
	p := filepath.Join(t.TempDir(), "durations.yaml")
	raw := `
home: /var/lib/hmacfs
engine:
  type: badger
  timeout: 750ms
http:
  binding: 127.0.0.1:9000
rateLimiter:
  limit: 5
  burst: 10
  clientTTL: 2m
sessions:
  eventChannelSize: 1
  webSocketReadBufferSize: 1
  webSocketWriteBufferSize: 1
  maxConnections: 1
`
	require.NoError(t, os.WriteFile(p, []byte(raw), 0600))
	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.Engine.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.RateLimiter.ClientTTL)
	assert.False(t, cfg.SSH.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   error
	}{
		{"missing home", func(c *Config) { c.Home = "" }, ErrHomeMissing},
		{"in memory needs no home", func(c *Config) { c.Home = ""; c.Engine.InMemory = true }, nil},
		{"unknown engine", func(c *Config) { c.Engine.Type = "sqlite" }, ErrEngineTypeInvalid},
		{"postgres without url", func(c *Config) { c.Engine.Type = EnginePostgres }, ErrPostgresURLMissing},
		{"postgres with url", func(c *Config) {
			c.Engine.Type = EnginePostgres
			c.Engine.PostgresURL = "postgres://localhost/hmacfs"
		}, nil},
		{"no timeout", func(c *Config) { c.Engine.Timeout = 0 }, ErrEngineTimeoutMissing},
		{"no http binding", func(c *Config) { c.HTTP.Binding = "" }, ErrHTTPBindingMissing},
		{"half tls", func(c *Config) { c.HTTP.TLS.Cert = "server.crt" }, ErrTLSMissing},
		{"ssh without keys", func(c *Config) { c.SSH.Enabled = true }, ErrSSHAuthorizedKeysMissing},
		{"ssh without host key", func(c *Config) {
			c.SSH.Enabled = true
			c.SSH.HostKeyPath = ""
		}, ErrSSHHostKeyMissing},
		{"rate limit", func(c *Config) { c.RateLimiter.Limit = 0 }, ErrRateLimiterLimitMissing},
		{"limiter ttl", func(c *Config) { c.RateLimiter.ClientTTL = 0 }, ErrRateLimiterClientTTLMissing},
		{"event channel", func(c *Config) { c.Sessions.EventChannelSize = 0 }, ErrSessionsEventChannelSizeMissing},
		{"max connections", func(c *Config) { c.Sessions.MaxConnections = -1 }, ErrSessionsMaxConnectionsMissing},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, ErrLogLevelInvalid},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := GenerateConfig("")
			require.NoError(t, err)
			tc.mutate(cfg)
			err = cfg.Validate()
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
