package editor

import (
	"strings"

	"github.com/InsulaLabs/hmacfs/internal/app"

	tea "github.com/charmbracelet/bubbletea"
)

func (e *App) viewModeHelp() string {
	b := strings.Builder{}
	b.WriteString("\nEditor Command Reference\n")
	b.WriteString("========================\n\n")
	b.WriteString("  edit <file>  - Open a text file, or start a new one.\n")
	b.WriteString("  edit help    - Show this help information.\n\n")
	b.WriteString("Editor Controls:\n")
	b.WriteString("  Ctrl+S     - Save the whole file.\n")
	b.WriteString("  Ctrl+Q     - Quit, discarding unsaved changes.\n")
	b.WriteString("  Ctrl+C/ESC - Exit (asks again if there are unsaved changes).\n\n")
	b.WriteString("Press Enter to return to the shell.\n")
	return b.String()
}

// updateModeDismiss serves the help and error screens, which only wait to be
// closed.
func (e *App) updateModeDismiss(msg tea.Msg) (app.App, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEnter, tea.KeyEsc:
			return nil, nil
		}
	}
	return e, nil
}
