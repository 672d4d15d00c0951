package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/InsulaLabs/hmacfs/pkg/vfs"
	"github.com/InsulaLabs/hmacfs/pkg/vpath"
	"github.com/google/uuid"
)

type Session struct {
	sessionID string
	userID    string

	history       []string
	historyIndex  int
	currentBuffer string
	inHistoryMode bool

	config         SessionConfig
	startTimestamp time.Time

	fs  vfs.FileSystem
	cwd string

	sessionRuntimeCtx context.Context
}

type SessionConfig struct {
	Logger *slog.Logger
	UserID string
	// Prompt is the label before the working directory, e.g. "hmacfs".
	Prompt string
	FS     vfs.FileSystem
}

func NewSession(ctx context.Context, config SessionConfig) *Session {

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Prompt == "" {
		config.Prompt = "hmacfs"
	}

	return &Session{
		sessionID:         uuid.New().String(),
		userID:            config.UserID,
		history:           []string{},
		historyIndex:      -1,
		inHistoryMode:     false,
		config:            config,
		startTimestamp:    time.Now(),
		fs:                config.FS,
		cwd:               vpath.Root,
		sessionRuntimeCtx: ctx,
	}
}

func (s *Session) AddToHistory(cmd string) {
	if cmd != "" {
		s.history = append(s.history, cmd)
		s.historyIndex = len(s.history)
		s.inHistoryMode = false
	}
}

func (s *Session) StartHistoryNavigation(currentBuffer string) {
	if !s.inHistoryMode {
		s.currentBuffer = currentBuffer
		s.inHistoryMode = true
		s.historyIndex = len(s.history)
	}
}

func (s *Session) IsInHistoryMode() bool {
	return s.inHistoryMode
}

func (s *Session) NavigateHistory(up bool) string {
	if len(s.history) == 0 {
		return ""
	}

	if up {
		if s.historyIndex > 0 {
			s.historyIndex--
			return s.history[s.historyIndex]
		}
	} else {
		if s.historyIndex < len(s.history)-1 {
			s.historyIndex++
			return s.history[s.historyIndex]
		} else {
			s.historyIndex = len(s.history)
			s.inHistoryMode = false
			return s.currentBuffer
		}
	}

	if s.historyIndex >= 0 && s.historyIndex < len(s.history) {
		return s.history[s.historyIndex]
	}

	return s.currentBuffer
}

func (s *Session) GetHistory() []string {
	return s.history
}

func (s *Session) UserUptime() time.Duration {
	return time.Since(s.startTimestamp)
}

func (s *Session) GetUserID() string {
	return s.config.UserID
}

func (s *Session) GetPrompt() string {
	return fmt.Sprintf("%s:%s$ ", s.config.Prompt, s.cwd)
}

func (s *Session) GetSessionRuntimeCtx() context.Context {
	return s.sessionRuntimeCtx
}

func (s *Session) Logger() *slog.Logger {
	return s.config.Logger
}

/*
	File system helpers
*/

func (s *Session) FS() vfs.FileSystem {
	return s.fs
}

func (s *Session) GetCurrentDirectory() string {
	return s.cwd
}

// ResolvePath turns a path typed at the prompt into a canonical path.
func (s *Session) ResolvePath(p string) string {
	return vpath.Resolve(s.cwd, p)
}

// setCurrentDirectory is only called from the model's update loop.
func (s *Session) setCurrentDirectory(p string) {
	s.cwd = vpath.Normalize(p)
}

func (s *Session) BuildHelpText(applications AppMap) string {
	var helpText string

	helpText += "Available Commands:\n\n"

	helpText += "Built-in Commands:\n"
	helpText += "  exit - Exit the session\n"
	helpText += "  help - Display this help message\n\n"

	helpText += "File Commands:\n"
	for _, c := range vfsCommandHelp {
		helpText += fmt.Sprintf("  %-22s - %s\n", c.usage, c.summary)
	}

	if len(applications) > 0 {
		helpText += "\nApplications:\n"
		for name, constructor := range applications {
			helpText += "  " + name + " - " + constructor().GetHelpText() + "\n"
		}
	}

	return helpText
}
