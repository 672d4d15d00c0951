package app

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

const maxDisplayHistory = 500

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	bannerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type commandOutputMsg struct {
	output string
	isErr  bool
}

// cwdChangedMsg is produced by cd once the target has been checked.
type cwdChangedMsg struct {
	path string
}

type displayEntryType int

const (
	displayEntryCommand displayEntryType = iota
	displayEntryOutput
)

type displayEntry struct {
	entryType displayEntryType
	prompt    string
	content   string
	isErr     bool
}

type CLICmdHandler func(session *Session, command string, args []string) tea.Cmd

type Model struct {
	session    *Session
	input      textinput.Model
	quitting   bool
	currentApp App
	windowSize tea.WindowSizeMsg

	applications AppMap

	commands map[string]CLICmdHandler

	displayHistory []displayEntry

	ctx context.Context
}

type ReplConfig struct {
	SessionConfig SessionConfig
}

func New(ctx context.Context, config ReplConfig, applications AppMap) Model {
	session := NewSession(ctx, config.SessionConfig)

	input := textinput.New()
	input.Prompt = ""
	input.Focus()

	return Model{
		session:      session,
		input:        input,
		ctx:          ctx,
		applications: applications,
		commands:     getCommandMap(ctx, applications),
	}
}

func (m Model) Session() *Session {
	return m.session
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// Kept for apps launched later so they can size themselves immediately.
	if windowMsg, ok := msg.(tea.WindowSizeMsg); ok {
		m.windowSize = windowMsg
	}

	if m.currentApp != nil {
		newApp, cmd := m.currentApp.Update(msg)
		if newApp == nil {
			m.currentApp = nil
			m.input.Focus()
			return m, textinput.Blink
		}
		m.currentApp = newApp
		return m, cmd
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.input.Value() != "" {
				m.appendDisplay(displayEntry{
					entryType: displayEntryCommand,
					prompt:    m.session.GetPrompt(),
					content:   m.input.Value() + "^C",
				})
			}
			m.input.Reset()
			return m, nil
		case tea.KeyCtrlD:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			command := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if command == "" {
				return m, nil
			}
			log.Info("Command received", "command", command, "cwd", m.session.GetCurrentDirectory())

			m.session.AddToHistory(command)
			m.appendDisplay(displayEntry{
				entryType: displayEntryCommand,
				prompt:    m.session.GetPrompt(),
				content:   command,
			})

			cmd, args := splitCommandLine(command)
			if app, ok := m.applications[cmd]; ok {
				return m, m.LaunchApp(app(), args)
			}
			if cmdHandler, ok := m.commands[cmd]; ok {
				return m, cmdHandler(m.session, cmd, args)
			}
			return m, outputCmd(cmd+": command not found", true)
		case tea.KeyUp:
			m.session.StartHistoryNavigation(m.input.Value())
			if historyCmd := m.session.NavigateHistory(true); historyCmd != "" || m.session.IsInHistoryMode() {
				m.input.SetValue(historyCmd)
				m.input.CursorEnd()
			}
			return m, nil
		case tea.KeyDown:
			if m.session.IsInHistoryMode() {
				m.input.SetValue(m.session.NavigateHistory(false))
				m.input.CursorEnd()
			}
			return m, nil
		}
	case commandOutputMsg:
		if msg.output != "" {
			m.appendDisplay(displayEntry{
				entryType: displayEntryOutput,
				content:   msg.output,
				isErr:     msg.isErr,
			})
		}
		return m, nil
	case cwdChangedMsg:
		m.session.setCurrentDirectory(msg.path)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) appendDisplay(entry displayEntry) {
	m.displayHistory = append(m.displayHistory, entry)
	if over := len(m.displayHistory) - maxDisplayHistory; over > 0 {
		m.displayHistory = m.displayHistory[over:]
	}
}

func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.currentApp != nil {
		return m.currentApp.View()
	}

	var b strings.Builder

	b.WriteString(bannerStyle.Render("hmacfs shell. Type 'help' for commands, 'exit' or Ctrl+D to quit."))
	b.WriteString("\n\n")

	for _, entry := range m.displayHistory {
		switch entry.entryType {
		case displayEntryCommand:
			b.WriteString(promptStyle.Render(entry.prompt))
			b.WriteString(entry.content)
			b.WriteString("\n")
		case displayEntryOutput:
			content := strings.TrimSuffix(entry.content, "\n")
			if entry.isErr {
				content = errorStyle.Render(content)
			}
			b.WriteString(content)
			b.WriteString("\n")
		}
	}

	b.WriteString(promptStyle.Render(m.session.GetPrompt()))
	b.WriteString(m.input.View())
	b.WriteString("\n")

	out := b.String()
	if m.windowSize.Height > 0 {
		lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
		if len(lines) > m.windowSize.Height {
			lines = lines[len(lines)-m.windowSize.Height:]
		}
		out = strings.Join(lines, "\n") + "\n"
	}
	return out
}

func (m *Model) LaunchApp(app App, args []string) tea.Cmd {
	m.input.Reset()
	m.input.Blur()
	m.currentApp = app
	appInitCmd := app.Init(m.session, args)
	if m.windowSize.Width > 0 && m.windowSize.Height > 0 {
		size := m.windowSize
		return tea.Batch(appInitCmd, func() tea.Msg { return size })
	}
	return appInitCmd
}

// splitCommandLine separates the command from its arguments. Single or
// double quotes group words into one argument.
func splitCommandLine(line string) (string, []string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil
	}

	var fields []string
	var current strings.Builder
	inQuotes := false
	quoted := false
	quoteChar := byte(0)

	for i := 0; i < len(line); i++ {
		char := line[i]

		switch {
		case !inQuotes && (char == '"' || char == '\''):
			inQuotes = true
			quoted = true
			quoteChar = char
		case inQuotes && char == quoteChar:
			inQuotes = false
			quoteChar = 0
		case !inQuotes && (char == ' ' || char == '\t'):
			if current.Len() > 0 || quoted {
				fields = append(fields, current.String())
				current.Reset()
				quoted = false
			}
		default:
			current.WriteByte(char)
		}
	}

	if current.Len() > 0 || quoted {
		fields = append(fields, current.String())
	}

	if len(fields) == 0 {
		return "", nil
	}
	if len(fields) == 1 {
		return fields[0], nil
	}
	return fields[0], fields[1:]
}
