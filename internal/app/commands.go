package app

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

func getCommandMap(ctx context.Context, applications AppMap) map[string]CLICmdHandler {
	commands := map[string]CLICmdHandler{
		"exit": func(session *Session, command string, args []string) tea.Cmd {
			return tea.Quit
		},
		"help": func(session *Session, command string, args []string) tea.Cmd {
			return outputCmd(session.BuildHelpText(applications), false)
		},
	}

	return mergeCommandMaps(commands, getVfsCommandMap(ctx))
}

func mergeCommandMaps(maps ...map[string]CLICmdHandler) map[string]CLICmdHandler {
	result := make(map[string]CLICmdHandler)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

func outputCmd(output string, isErr bool) tea.Cmd {
	return func() tea.Msg {
		return commandOutputMsg{output: output, isErr: isErr}
	}
}
