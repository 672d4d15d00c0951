package app

import tea "github.com/charmbracelet/bubbletea"

type AppConstructor func() App

type AppMap map[string]AppConstructor

// App is a full screen program launched from the shell. Returning a nil App
// from Update hands the terminal back to the shell.
type App interface {
	Init(session *Session, args []string) tea.Cmd
	Update(msg tea.Msg) (App, tea.Cmd)
	View() string
	GetHelpText() string
}
