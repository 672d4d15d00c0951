// Package sshd serves the interactive shell over SSH. Every session gets its
// own shell model bound to the shared file system; only keys listed in the
// configuration may log in.
package sshd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/InsulaLabs/hmacfs/config"
	"github.com/InsulaLabs/hmacfs/internal/app"
	"github.com/InsulaLabs/hmacfs/pkg/vfs"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/activeterm"
	"github.com/charmbracelet/wish/bubbletea"
	"github.com/charmbracelet/wish/logging"
	"github.com/pkg/errors"
	gossh "golang.org/x/crypto/ssh"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	logger       *slog.Logger
	cfg          config.SSHConfig
	fs           vfs.FileSystem
	applications app.AppMap
	allowed      []ssh.PublicKey
	srv          *ssh.Server
}

// ParseAuthorizedKeys accepts lines in authorized_keys format.
func ParseAuthorizedKeys(lines []string) ([]ssh.PublicKey, error) {
	keys := make([]ssh.PublicKey, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, _, _, _, err := gossh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, errors.Wrapf(err, "authorized key %d", i)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func New(logger *slog.Logger, cfg config.SSHConfig, fs vfs.FileSystem, applications app.AppMap) (*Server, error) {
	allowed, err := ParseAuthorizedKeys(cfg.AuthorizedKeys)
	if err != nil {
		return nil, err
	}
	if len(allowed) == 0 {
		return nil, config.ErrSSHAuthorizedKeysMissing
	}

	s := &Server{
		logger:       logger.WithGroup("sshd"),
		cfg:          cfg,
		fs:           fs,
		applications: applications,
		allowed:      allowed,
	}

	srv, err := wish.NewServer(
		wish.WithAddress(cfg.Binding),
		wish.WithHostKeyPath(cfg.HostKeyPath),
		wish.WithPublicKeyAuth(func(ctx ssh.Context, key ssh.PublicKey) bool {
			return s.authenticateUser(ctx, key)
		}),

		ssh.AllocatePty(),

		wish.WithMiddleware(
			bubbletea.Middleware(func(sess ssh.Session) (tea.Model, []tea.ProgramOption) {
				s.logger.Info("New session", "user", sess.User(), "remote_addr", sess.RemoteAddr())
				return s.newSession(sess)
			}),
			activeterm.Middleware(),
			logging.Middleware(),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "could not create ssh server")
	}
	s.srv = srv
	return s, nil
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting SSH server", "address", s.cfg.Binding)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, ssh.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("SSH server shutdown failed", "error", err)
		return err
	}
	s.logger.Info("SSH server stopped")
	return nil
}

func (s *Server) authenticateUser(ctx ssh.Context, key ssh.PublicKey) bool {
	if s.isAuthorized(key) {
		s.logger.Info("SSH user authenticated", "user", ctx.User())
		return true
	}
	s.logger.Debug("SSH authentication failed", "user", ctx.User(), "fingerprint", gossh.FingerprintSHA256(key))
	return false
}

func (s *Server) isAuthorized(key ssh.PublicKey) bool {
	for _, allowed := range s.allowed {
		if ssh.KeysEqual(allowed, key) {
			return true
		}
	}
	return false
}

func (s *Server) newSession(sess ssh.Session) (tea.Model, []tea.ProgramOption) {
	model := app.New(sess.Context(), app.ReplConfig{
		SessionConfig: app.SessionConfig{
			Logger: s.logger.With("user", sess.User()),
			UserID: sess.User(),
			Prompt: fmt.Sprintf("%s@hmacfs", sess.User()),
			FS:     s.fs,
		},
	}, s.applications)

	return model, []tea.ProgramOption{
		tea.WithAltScreen(),
	}
}
