package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/InsulaLabs/hmacfs/pkg/models"
	"github.com/InsulaLabs/hmacfs/pkg/vfs"
	"github.com/InsulaLabs/hmacfs/pkg/vpath"
	tea "github.com/charmbracelet/bubbletea"
)

type commandHelp struct {
	usage   string
	summary string
}

var vfsCommandHelp = []commandHelp{
	{"pwd", "Print the working directory"},
	{"cd [dir]", "Change the working directory"},
	{"ls [dir]", "List a directory"},
	{"cat <file>", "Print a text file"},
	{"mkdir [-p] <dir>", "Create a directory"},
	{"touch <file>", "Create a file or bump its update time"},
	{"write <file> <text...>", "Replace a file with text"},
	{"rm [-r] <path>", "Remove a file or directory"},
	{"stat <path>", "Show an entry's metadata"},
	{"tree [dir]", "Show a directory tree"},
}

const timeLayout = "Jan 02 15:04"

// Handlers resolve paths against the session synchronously and do the I/O
// inside the returned command so the update loop never blocks.
func getVfsCommandMap(ctx context.Context) map[string]CLICmdHandler {
	commands := map[string]CLICmdHandler{
		"pwd": func(session *Session, command string, args []string) tea.Cmd {
			return outputCmd(session.GetCurrentDirectory(), false)
		},
		"cd": func(session *Session, command string, args []string) tea.Cmd {
			target := vpath.Root
			if len(args) > 0 {
				target = session.ResolvePath(args[0])
			}
			fs := session.FS()
			return func() tea.Msg {
				stat, err := fs.Stat(ctx, target)
				if err != nil {
					return commandOutputMsg{output: err.Error(), isErr: true}
				}
				if !stat.IsDir() {
					return commandOutputMsg{output: fmt.Sprintf("cd %s: %s", target, vfs.ErrNotADirectory), isErr: true}
				}
				return cwdChangedMsg{path: target}
			}
		},
		"ls": func(session *Session, command string, args []string) tea.Cmd {
			target := session.GetCurrentDirectory()
			if len(args) > 0 {
				target = session.ResolvePath(args[0])
			}
			fs := session.FS()
			return func() tea.Msg {
				infos, err := fs.List(ctx, target)
				if err != nil {
					return commandOutputMsg{output: err.Error(), isErr: true}
				}
				var output strings.Builder
				for _, info := range infos {
					output.WriteString(formatListing(info))
					output.WriteString("\n")
				}
				return commandOutputMsg{output: output.String()}
			}
		},
		"cat": func(session *Session, command string, args []string) tea.Cmd {
			if len(args) == 0 {
				return outputCmd("Usage: cat <file>", true)
			}
			target := session.ResolvePath(args[0])
			fs := session.FS()
			return func() tea.Msg {
				text, err := fs.ReadText(ctx, target)
				if errors.Is(err, vfs.ErrDecode) {
					return commandOutputMsg{output: fmt.Sprintf("cat %s: binary file", target), isErr: true}
				}
				if err != nil {
					return commandOutputMsg{output: err.Error(), isErr: true}
				}
				return commandOutputMsg{output: text}
			}
		},
		"mkdir": func(session *Session, command string, args []string) tea.Cmd {
			parents := false
			if len(args) > 0 && args[0] == "-p" {
				parents = true
				args = args[1:]
			}
			if len(args) == 0 {
				return outputCmd("Usage: mkdir [-p] <dir>", true)
			}
			target := session.ResolvePath(args[0])
			fs := session.FS()
			return func() tea.Msg {
				var err error
				if parents {
					err = MkdirAll(ctx, fs, target)
				} else {
					err = fs.Mkdir(ctx, target)
				}
				if err != nil {
					return commandOutputMsg{output: err.Error(), isErr: true}
				}
				return commandOutputMsg{}
			}
		},
		"touch": func(session *Session, command string, args []string) tea.Cmd {
			if len(args) == 0 {
				return outputCmd("Usage: touch <file>", true)
			}
			target := session.ResolvePath(args[0])
			fs := session.FS()
			return func() tea.Msg {
				if err := touch(ctx, fs, target); err != nil {
					return commandOutputMsg{output: err.Error(), isErr: true}
				}
				return commandOutputMsg{}
			}
		},
		"write": func(session *Session, command string, args []string) tea.Cmd {
			if len(args) < 1 {
				return outputCmd("Usage: write <file> <text...>", true)
			}
			target := session.ResolvePath(args[0])
			text := strings.Join(args[1:], " ")
			fs := session.FS()
			return func() tea.Msg {
				if err := fs.WriteText(ctx, target, text); err != nil {
					return commandOutputMsg{output: err.Error(), isErr: true}
				}
				return commandOutputMsg{}
			}
		},
		"rm": func(session *Session, command string, args []string) tea.Cmd {
			var opts []vfs.RemoveOption
			if len(args) > 0 && args[0] == "-r" {
				opts = append(opts, vfs.WithRecursiveRemove())
				args = args[1:]
			}
			if len(args) == 0 {
				return outputCmd("Usage: rm [-r] <path>", true)
			}
			target := session.ResolvePath(args[0])
			fs := session.FS()
			return func() tea.Msg {
				if err := fs.Remove(ctx, target, opts...); err != nil {
					return commandOutputMsg{output: err.Error(), isErr: true}
				}
				return commandOutputMsg{}
			}
		},
		"stat": func(session *Session, command string, args []string) tea.Cmd {
			if len(args) == 0 {
				return outputCmd("Usage: stat <path>", true)
			}
			target := session.ResolvePath(args[0])
			fs := session.FS()
			return func() tea.Msg {
				stat, err := fs.Stat(ctx, target)
				if err != nil {
					return commandOutputMsg{output: err.Error(), isErr: true}
				}
				return commandOutputMsg{output: formatStat(target, stat)}
			}
		},
		"tree": func(session *Session, command string, args []string) tea.Cmd {
			target := session.GetCurrentDirectory()
			if len(args) > 0 {
				target = session.ResolvePath(args[0])
			}
			fs := session.FS()
			return func() tea.Msg {
				var output strings.Builder
				err := vfs.Walk(ctx, fs, target, func(info models.FileInfo, depth int) error {
					name := info.Name
					if depth == 0 {
						name = info.Path
					} else if info.IsDir() {
						name += "/"
					}
					output.WriteString(strings.Repeat("  ", depth))
					output.WriteString(name)
					output.WriteString("\n")
					return nil
				})
				if err != nil {
					return commandOutputMsg{output: err.Error(), isErr: true}
				}
				return commandOutputMsg{output: output.String()}
			}
		},
	}
	return commands
}

func formatListing(info models.FileInfo) string {
	fileType := "f"
	name := info.Name
	if info.IsDir() {
		fileType = "d"
		name += "/"
	}
	return fmt.Sprintf("%s %8d %s %s", fileType, info.Size, info.UpdatedAt.Local().Format(timeLayout), name)
}

func formatStat(p string, stat models.FileStat) string {
	var b strings.Builder
	fmt.Fprintf(&b, "path:     %s\n", p)
	fmt.Fprintf(&b, "type:     %s\n", stat.Kind)
	fmt.Fprintf(&b, "size:     %d\n", stat.Size)
	if stat.MimeType != "" {
		fmt.Fprintf(&b, "mime:     %s\n", stat.MimeType)
	}
	fmt.Fprintf(&b, "created:  %s\n", stat.CreatedAt.Local().Format(timeLayout))
	fmt.Fprintf(&b, "updated:  %s", stat.UpdatedAt.Local().Format(timeLayout))
	return b.String()
}

// MkdirAll creates p and any missing ancestors. Existing directories along
// the way are fine; an existing file is not.
func MkdirAll(ctx context.Context, fs vfs.FileSystem, p string) error {
	p = vpath.Normalize(p)
	if vpath.IsRoot(p) {
		return nil
	}
	stat, err := fs.Stat(ctx, p)
	if err == nil {
		if stat.IsDir() {
			return nil
		}
		return fmt.Errorf("mkdir %s: %w", p, vfs.ErrNotADirectory)
	}
	if !errors.Is(err, vfs.ErrNotFound) {
		return err
	}
	if err := MkdirAll(ctx, fs, vpath.Parent(p)); err != nil {
		return err
	}
	err = fs.Mkdir(ctx, p)
	if errors.Is(err, vfs.ErrAlreadyExists) {
		return nil
	}
	return err
}

func touch(ctx context.Context, fs vfs.FileSystem, p string) error {
	stat, err := fs.Stat(ctx, p)
	if errors.Is(err, vfs.ErrNotFound) {
		return fs.Write(ctx, p, nil)
	}
	if err != nil {
		return err
	}
	if stat.IsDir() {
		return nil
	}
	data, err := fs.Read(ctx, p)
	if err != nil {
		return err
	}
	return fs.Write(ctx, p, data, vfs.WithMimeType(stat.MimeType))
}
