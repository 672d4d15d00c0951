package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/InsulaLabs/hmacfs/client"
	"github.com/InsulaLabs/hmacfs/internal/app"
	"github.com/InsulaLabs/hmacfs/internal/editor"
	"github.com/InsulaLabs/hmacfs/internal/mount"
	"github.com/InsulaLabs/hmacfs/pkg/models"
	"github.com/InsulaLabs/hmacfs/pkg/vfs"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
)

var (
	logger     *slog.Logger
	hostPort   string
	useTLS     bool
	skipVerify bool
	timeout    time.Duration
	verbose    bool

	dirColor = color.New(color.FgBlue, color.Bold)
	errColor = color.New(color.FgRed)
	okColor  = color.New(color.FgGreen)
)

type handler func(ctx context.Context, c *client.Client, args []string) error

var commands = map[string]handler{
	"init":      handleInit,
	"ls":        handleLs,
	"cat":       handleCat,
	"write":     handleWrite,
	"mkdir":     handleMkdir,
	"rm":        handleRm,
	"stat":      handleStat,
	"exists":    handleExists,
	"tree":      handleTree,
	"ping":      handlePing,
	"subscribe": handleSubscribe,
	"shell":     handleShell,
	"mount":     handleMount,
}

var errUsage = errors.New("usage")

func init() {
	defaultHost := os.Getenv("HMACFS_HOST")
	if defaultHost == "" {
		defaultHost = "127.0.0.1:7401"
	}
	flag.StringVar(&hostPort, "host", defaultHost, "host:port of the hmacfs daemon (env HMACFS_HOST)")
	flag.BoolVar(&useTLS, "tls", false, "Connect over HTTPS")
	flag.BoolVar(&skipVerify, "skip-verify", false, "Skip TLS certificate verification")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Per request timeout")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	command, cmdArgs := args[0], args[1:]
	h, ok := commands[command]
	if !ok {
		errColor.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	c, err := client.NewClient(&client.Config{
		HostPort:   hostPort,
		UseTLS:     useTLS,
		SkipVerify: skipVerify,
		Timeout:    timeout,
		Logger:     logger.WithGroup("client"),
	})
	if err != nil {
		errColor.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := h(ctx, c, cmdArgs); err != nil {
		if errors.Is(err, errUsage) {
			printUsage()
		} else {
			errColor.Fprintln(os.Stderr, "Error:", err)
		}
		cancel()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: hmacfs [flags] <command> [args...]\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  init\n")
	fmt.Fprintf(os.Stderr, "  ls [path]\n")
	fmt.Fprintf(os.Stderr, "  cat <path>\n")
	fmt.Fprintf(os.Stderr, "  write <path> [text]     (reads stdin when text is omitted or '-')\n")
	fmt.Fprintf(os.Stderr, "  mkdir [-p] <path>\n")
	fmt.Fprintf(os.Stderr, "  rm [-r] <path>\n")
	fmt.Fprintf(os.Stderr, "  stat <path>\n")
	fmt.Fprintf(os.Stderr, "  exists <path>\n")
	fmt.Fprintf(os.Stderr, "  tree [path]\n")
	fmt.Fprintf(os.Stderr, "  ping\n")
	fmt.Fprintf(os.Stderr, "  subscribe [prefix]\n")
	fmt.Fprintf(os.Stderr, "  shell\n")
	fmt.Fprintf(os.Stderr, "  mount <mountpoint>\n")
}

func requireArgs(args []string, n int) error {
	if len(args) < n {
		return errUsage
	}
	return nil
}

func pathArg(args []string) string {
	if len(args) == 0 {
		return "/"
	}
	return args[0]
}

func handleInit(ctx context.Context, c *client.Client, args []string) error {
	if err := c.Init(ctx); err != nil {
		return err
	}
	okColor.Println("OK")
	return nil
}

func handleLs(ctx context.Context, c *client.Client, args []string) error {
	infos, err := c.List(ctx, pathArg(args))
	if err != nil {
		return err
	}
	for _, info := range infos {
		stamp := info.UpdatedAt.Local().Format("Jan 02 15:04")
		if info.IsDir() {
			fmt.Printf("d %8s %s %s\n", "-", stamp, dirColor.Sprint(info.Name+"/"))
			continue
		}
		fmt.Printf("f %8d %s %s\n", info.Size, stamp, info.Name)
	}
	return nil
}

func handleCat(ctx context.Context, c *client.Client, args []string) error {
	if err := requireArgs(args, 1); err != nil {
		return err
	}
	data, err := c.Read(ctx, args[0])
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func handleWrite(ctx context.Context, c *client.Client, args []string) error {
	if err := requireArgs(args, 1); err != nil {
		return err
	}
	var data []byte
	if len(args) == 1 || args[1] == "-" {
		var err error
		if data, err = io.ReadAll(os.Stdin); err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	} else {
		data = []byte(strings.Join(args[1:], " "))
	}
	if err := c.Write(ctx, args[0], data); err != nil {
		return err
	}
	okColor.Println("OK")
	return nil
}

func handleMkdir(ctx context.Context, c *client.Client, args []string) error {
	parents := len(args) > 0 && args[0] == "-p"
	if parents {
		args = args[1:]
	}
	if err := requireArgs(args, 1); err != nil {
		return err
	}
	var err error
	if parents {
		err = app.MkdirAll(ctx, c, args[0])
	} else {
		err = c.Mkdir(ctx, args[0])
	}
	if err != nil {
		return err
	}
	okColor.Println("OK")
	return nil
}

func handleRm(ctx context.Context, c *client.Client, args []string) error {
	var opts []vfs.RemoveOption
	if len(args) > 0 && args[0] == "-r" {
		opts = append(opts, vfs.WithRecursiveRemove())
		args = args[1:]
	}
	if err := requireArgs(args, 1); err != nil {
		return err
	}
	if err := c.Remove(ctx, args[0], opts...); err != nil {
		return err
	}
	okColor.Println("OK")
	return nil
}

func handleStat(ctx context.Context, c *client.Client, args []string) error {
	if err := requireArgs(args, 1); err != nil {
		return err
	}
	stat, err := c.Stat(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("name:     %s\n", stat.Name)
	fmt.Printf("type:     %s\n", stat.Kind)
	fmt.Printf("size:     %d\n", stat.Size)
	if stat.MimeType != "" {
		fmt.Printf("mime:     %s\n", stat.MimeType)
	}
	fmt.Printf("created:  %s\n", stat.CreatedAt.Local().Format(time.RFC3339))
	fmt.Printf("updated:  %s\n", stat.UpdatedAt.Local().Format(time.RFC3339))
	return nil
}

func handleExists(ctx context.Context, c *client.Client, args []string) error {
	if err := requireArgs(args, 1); err != nil {
		return err
	}
	ok, err := c.Exists(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Println(ok)
	if !ok {
		os.Exit(2)
	}
	return nil
}

func handleTree(ctx context.Context, c *client.Client, args []string) error {
	return vfs.Walk(ctx, c, pathArg(args), func(info models.FileInfo, depth int) error {
		name := info.Name
		if depth == 0 {
			name = info.Path
		}
		indent := strings.Repeat("  ", depth)
		if info.IsDir() {
			fmt.Println(indent + dirColor.Sprint(strings.TrimSuffix(name, "/")+"/"))
		} else {
			fmt.Println(indent + name)
		}
		return nil
	})
}

func handlePing(ctx context.Context, c *client.Client, args []string) error {
	ping, err := c.Ping(ctx)
	if err != nil {
		return err
	}
	okColor.Printf("%s", ping.Status)
	fmt.Printf(" engine=%s uptime=%s listeners=%d\n", ping.Engine, ping.Uptime, ping.Listeners)
	return nil
}

func handleSubscribe(ctx context.Context, c *client.Client, args []string) error {
	prefix := pathArg(args)
	logger.Info("Attempting to subscribe to changes", "prefix", prefix)
	err := c.SubscribeToEvents(ctx, prefix, func(e models.Event) {
		fmt.Printf("%s %-6s %-4s %s\n",
			e.EmittedAt.Local().Format(time.TimeOnly), e.Data.Op, e.Data.Kind, e.Data.Path)
	})
	// Cancellation is the normal way out.
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func handleShell(ctx context.Context, c *client.Client, args []string) error {
	name, constructor := editor.AppEntry()
	user := os.Getenv("USER")
	model := app.New(ctx, app.ReplConfig{
		SessionConfig: app.SessionConfig{
			Logger: logger.WithGroup("shell"),
			UserID: user,
			Prompt: hostPort,
			FS:     c,
		},
	}, app.AppMap{name: constructor})

	_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func handleMount(ctx context.Context, c *client.Client, args []string) error {
	if err := requireArgs(args, 1); err != nil {
		return err
	}
	if _, err := c.Ping(ctx); err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}

	server, err := mount.Mount(c, args[0], mount.Options{Logger: logger, Debug: verbose})
	if err != nil {
		return err
	}
	okColor.Printf("Mounted %s at %s, press Ctrl+C to unmount\n", hostPort, args[0])

	go func() {
		<-ctx.Done()
		if err := server.Unmount(); err != nil {
			errColor.Fprintln(os.Stderr, "Unmount failed:", err)
		}
	}()
	server.Wait()
	return nil
}
