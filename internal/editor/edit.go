package editor

import (
	"fmt"

	"github.com/InsulaLabs/hmacfs/internal/app"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

func (e *App) viewModeEdit() string {
	return lipgloss.JoinVertical(
		lipgloss.Top,
		e.textarea.View(),
		e.viewport.View(),
		e.renderStatusLine(),
	)
}

func (e *App) updateModeEdit(msg tea.Msg) (app.App, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		e.height = msg.Height
		e.width = msg.Width
		e.textarea.SetWidth(msg.Width)
		e.textarea.SetHeight(max(msg.Height-2, 1))
		e.viewport.Width = msg.Width
		return e, nil

	case savedMsg:
		if msg.err != nil {
			e.setMessage(fmt.Sprintf("Error saving: %v", msg.err))
			return e, nil
		}
		e.originalContent = msg.content
		e.isNew = false
		e.confirmDiscard = false
		e.setMessage("File saved")
		return e, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if !e.isDirty() || e.confirmDiscard {
				return nil, nil
			}
			e.confirmDiscard = true
			e.setMessage("Unsaved changes. Press again to discard, Ctrl+S to save.")
			return e, nil
		case tea.KeyCtrlS:
			e.setMessage("Saving...")
			return e, e.saveCmd()
		case tea.KeyCtrlQ:
			return nil, nil
		}
		e.confirmDiscard = false
	}

	e.textarea, cmd = e.textarea.Update(msg)
	return e, cmd
}

func (e *App) renderStatusLine() string {
	dirtyIndicator := ""
	if e.isDirty() {
		dirtyIndicator = " [modified]"
	} else if e.isNew {
		dirtyIndicator = " [new]"
	}

	status := fmt.Sprintf(" %s%s | Ctrl+S: Save | Ctrl+Q: Quit | ESC: Exit", e.filePath, dirtyIndicator)

	return e.statusLineStyle.Width(e.width).Render(status)
}
