// Package editor is the full screen text editor launched from the shell with
// "edit <file>". It works on whole files: the file is read once on open and
// written back in one WriteText on save.
package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/InsulaLabs/hmacfs/internal/app"
	"github.com/InsulaLabs/hmacfs/pkg/vfs"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type EditorMode string

const (
	EditorModeEdit  EditorMode = "edit"
	EditorModeHelp  EditorMode = "help"
	EditorModeError EditorMode = "error"
)

const AppName = "edit"

// savedMsg reports the outcome of an asynchronous save.
type savedMsg struct {
	content string
	err     error
}

type App struct {
	viewport viewport.Model
	textarea textarea.Model
	session  *app.Session
	ctx      context.Context
	height   int
	width    int

	filePath        string
	originalContent string
	isNew           bool
	fs              vfs.FileSystem

	mode        EditorMode
	editorError string

	// set after the first exit attempt with unsaved changes
	confirmDiscard bool

	statusLineStyle lipgloss.Style
	messageStyle    lipgloss.Style
}

func AppEntry() (string, app.AppConstructor) {
	return AppName, newApp
}

func newApp() app.App {
	ta := textarea.New()
	ta.Placeholder = "Loading..."
	ta.Focus()

	ta.Prompt = ""
	ta.ShowLineNumbers = true
	ta.CharLimit = 0

	ta.SetWidth(80)
	ta.SetHeight(20)

	vp := viewport.New(80, 1)

	ta.KeyMap.InsertNewline.SetEnabled(true)

	return &App{
		textarea:        ta,
		viewport:        vp,
		statusLineStyle: lipgloss.NewStyle().Background(lipgloss.Color("238")).Foreground(lipgloss.Color("230")),
		messageStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("212")),
	}
}

func (e *App) Init(session *app.Session, args []string) tea.Cmd {
	e.session = session
	e.ctx = session.GetSessionRuntimeCtx()
	e.fs = session.FS()

	if e.fs == nil {
		e.fail("No filesystem available")
		return nil
	}

	if len(args) == 0 {
		e.fail("Usage: edit <file>")
		return nil
	}

	if strings.ToLower(args[0]) == "help" {
		e.mode = EditorModeHelp
		return nil
	}

	e.filePath = e.session.ResolvePath(args[0])
	e.mode = EditorModeEdit

	if err := e.loadFile(); err != nil {
		e.fail(fmt.Sprintf("Failed to load file '%s': %v", e.filePath, err))
		return nil
	}

	return textarea.Blink
}

func (e *App) Update(msg tea.Msg) (app.App, tea.Cmd) {
	switch e.mode {
	case EditorModeEdit:
		return e.updateModeEdit(msg)
	case EditorModeHelp, EditorModeError:
		return e.updateModeDismiss(msg)
	}
	return e, nil
}

func (e *App) View() string {
	switch e.mode {
	case EditorModeEdit:
		return e.viewModeEdit()
	case EditorModeHelp:
		return e.viewModeHelp()
	case EditorModeError:
		return e.editorError + "\n\nPress Enter to return to the shell.\n"
	}
	return ""
}

func (e *App) GetHelpText() string {
	return "Edit a text file (use 'edit help' for details)"
}

func (e *App) fail(msg string) {
	e.mode = EditorModeError
	e.editorError = msg
}

func (e *App) setMessage(msg string) {
	e.viewport.SetContent(e.messageStyle.Render(msg))
}

// loadFile opens an existing text file. A missing file starts empty and is
// created on the first save.
func (e *App) loadFile() error {
	content, err := e.fs.ReadText(e.ctx, e.filePath)
	switch {
	case errors.Is(err, vfs.ErrNotFound):
		content = ""
		e.isNew = true
	case errors.Is(err, vfs.ErrDecode):
		return errors.New("binary files cannot be edited")
	case err != nil:
		return err
	}

	e.originalContent = content
	e.textarea.SetValue(content)
	e.textarea.Placeholder = ""
	if e.isNew {
		e.setMessage("New file")
	}
	return nil
}

func (e *App) saveCmd() tea.Cmd {
	fs, ctx, p := e.fs, e.ctx, e.filePath
	content := e.textarea.Value()
	return func() tea.Msg {
		return savedMsg{content: content, err: fs.WriteText(ctx, p, content)}
	}
}

func (e *App) isDirty() bool {
	return e.textarea.Value() != e.originalContent
}
