package sshd

import (
	"crypto/ed25519"
	"crypto/rand"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/InsulaLabs/hmacfs/config"
	"github.com/InsulaLabs/hmacfs/internal/app"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
)

func newKey(t *testing.T) (gossh.PublicKey, string) {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := gossh.NewPublicKey(pub)
	require.NoError(t, err)
	return key, string(gossh.MarshalAuthorizedKey(key))
}

func TestParseAuthorizedKeys(t *testing.T) {
	_, line := newKey(t)

	keys, err := ParseAuthorizedKeys([]string{"", "# comment", line})
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	_, err = ParseAuthorizedKeys([]string{"ssh-ed25519 not-base64"})
	assert.Error(t, err)
}

func TestAuthorization(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	allowedKey, line := newKey(t)
	otherKey, _ := newKey(t)

	cfg := config.SSHConfig{
		Enabled:        true,
		Binding:        "127.0.0.1:0",
		HostKeyPath:    filepath.Join(t.TempDir(), "host_key"),
		AuthorizedKeys: []string{line},
	}
	s, err := New(logger, cfg, nil, app.AppMap{})
	require.NoError(t, err)

	assert.True(t, s.isAuthorized(allowedKey))
	assert.False(t, s.isAuthorized(otherKey))

	cfg.AuthorizedKeys = nil
	_, err = New(logger, cfg, nil, app.AppMap{})
	assert.ErrorIs(t, err, config.ErrSSHAuthorizedKeysMissing)
}
