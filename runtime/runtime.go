package runtime

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/InsulaLabs/hmacfs/config"
	"github.com/InsulaLabs/hmacfs/db/engine"
	"github.com/InsulaLabs/hmacfs/db/tkv"
	"github.com/InsulaLabs/hmacfs/internal/app"
	"github.com/InsulaLabs/hmacfs/internal/editor"
	"github.com/InsulaLabs/hmacfs/internal/events"
	"github.com/InsulaLabs/hmacfs/internal/metrics"
	"github.com/InsulaLabs/hmacfs/internal/service"
	"github.com/InsulaLabs/hmacfs/internal/sshd"
	"github.com/InsulaLabs/hmacfs/pkg/vfs"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// Runtime manages the execution of hmacfsd: configuration, signal handling
// and the lifecycle of the store and every front end serving it.
type Runtime struct {
	appCtx     context.Context
	appCancel  context.CancelFunc
	logger     *slog.Logger
	cfg        *config.Config
	configFile string
	rawArgs    []string

	currentLogLevel slog.Level

	// closers run in reverse order on shutdown
	closers []func() error
}

// ErrConfigGenerated is returned by New after --new-cfg wrote a file; the
// caller should exit successfully.
var ErrConfigGenerated = fmt.Errorf("configuration generated")

// New parses flags, loads the configuration and prepares logging. It does
// not open the store; Run does.
func New(args []string, defaultConfigFile string) (*Runtime, error) {

	r := &Runtime{
		rawArgs:         args,
		currentLogLevel: slog.LevelInfo,
	}

	r.appCtx, r.appCancel = context.WithCancel(context.Background())
	r.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("service", "hmacfsdRuntime")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			r.logger.Info("Received signal, initiating shutdown...", "signal", sig)
			r.appCancel()
		case <-r.appCtx.Done():
		}
		signal.Stop(sigChan)
	}()

	var genConfigFile string
	fs := flag.NewFlagSet("runtime", flag.ContinueOnError)
	fs.StringVar(&r.configFile, "config", defaultConfigFile, "Path to the configuration file.")
	fs.StringVar(&genConfigFile, "new-cfg", "", "Generate a new configuration file to a given path.")

	if err := fs.Parse(r.rawArgs); err != nil {
		r.appCancel()
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if genConfigFile != "" {
		defer r.appCancel()
		if err := writeGeneratedConfig(genConfigFile); err != nil {
			return nil, err
		}
		r.logger.Info("Successfully generated new configuration file", "path", genConfigFile)
		return nil, ErrConfigGenerated
	}

	var err error
	r.cfg, err = config.LoadConfig(r.configFile)
	if err != nil {
		r.appCancel()
		return nil, fmt.Errorf("failed to load configuration from %s: %w", r.configFile, err)
	}

	r.currentLogLevel = parseLogLevel(r.cfg.Logging.Level)
	r.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: r.currentLogLevel,
	})).With("service", "hmacfsdRuntime")

	return r, nil
}

func writeGeneratedConfig(path string) error {
	cfg, err := config.GenerateConfig(path)
	if err != nil {
		return fmt.Errorf("failed to generate configuration: %w", err)
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal generated config to YAML: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for config file %s: %w", path, err)
		}
	}

	if err := os.WriteFile(path, yamlData, 0644); err != nil {
		return fmt.Errorf("failed to write generated configuration to %s: %w", path, err)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "", "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		color.HiYellow("Unknown logging level: %s, defaulting to info", level)
		return slog.LevelInfo
	}
}

// Run opens the store, starts the HTTP service and, when enabled, the SSH
// shell. It blocks until the runtime is stopped or a front end fails.
func (r *Runtime) Run() error {
	defer r.shutdown()

	store, err := r.openEngine()
	if err != nil {
		return err
	}

	ps := events.NewPubSub(events.Config{Logger: r.logger})
	emitterId, err := os.Hostname()
	if err != nil || emitterId == "" {
		emitterId = "hmacfsd"
	}
	notifier, err := events.NewNotifier(r.logger, ps, emitterId)
	if err != nil {
		return fmt.Errorf("failed to create change notifier: %w", err)
	}

	fsys, err := vfs.New(vfs.Config{
		Engine:   metrics.InstrumentEngine(store),
		Logger:   r.logger,
		Notifier: notifier,
	})
	if err != nil {
		return err
	}
	if err := fsys.Init(r.appCtx); err != nil {
		return fmt.Errorf("failed to initialize file system: %w", err)
	}

	if err := r.ensureTLSKeys(); err != nil {
		return err
	}

	svc, err := service.NewService(r.appCtx, r.logger, r.cfg, fsys, ps)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := svc.Run(); err != nil {
			errCh <- fmt.Errorf("http service: %w", err)
		}
	}()

	if r.cfg.SSH.Enabled {
		shell, err := sshd.New(r.logger, r.cfg.SSH, fsys, Applications())
		if err != nil {
			r.appCancel()
			wg.Wait()
			return fmt.Errorf("failed to create ssh server: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := shell.Run(r.appCtx); err != nil {
				errCh <- fmt.Errorf("ssh server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-r.appCtx.Done():
	case runErr = <-errCh:
		r.logger.Error("Front end failed, shutting down", "error", runErr)
		r.appCancel()
	}
	wg.Wait()
	r.logger.Info("Runtime has been shut down.")
	return runErr
}

// Applications lists the full screen programs available from the shell.
func Applications() app.AppMap {
	name, constructor := editor.AppEntry()
	return app.AppMap{name: constructor}
}

func (r *Runtime) openEngine() (engine.Engine, error) {
	switch r.cfg.Engine.Type {
	case config.EnginePostgres:
		r.logger.Info("Opening postgres engine")
		store, err := engine.NewPostgres(r.appCtx, r.logger, r.cfg.Engine.PostgresURL, r.cfg.Engine.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres engine: %w", err)
		}
		r.closers = append(r.closers, store.Close)
		return store, nil
	default:
		tkvCfg := tkv.Config{
			Logger:         r.logger,
			BadgerLogLevel: r.currentLogLevel,
			InMemory:       r.cfg.Engine.InMemory,
		}
		if !tkvCfg.InMemory {
			tkvCfg.Directory = r.cfg.BadgerDir()
			if err := os.MkdirAll(tkvCfg.Directory, os.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create badger directory %s: %w", tkvCfg.Directory, err)
			}
		}
		r.logger.Info("Opening badger engine", "directory", tkvCfg.Directory, "in_memory", tkvCfg.InMemory)
		kvm, err := tkv.New(tkvCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger engine: %w", err)
		}
		r.closers = append(r.closers, kvm.Close)
		return engine.NewTKV(r.logger, kvm, r.cfg.Engine.Timeout), nil
	}
}

func (r *Runtime) shutdown() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Error("Close failed during shutdown", "error", err)
		}
	}
	r.closers = nil
}

// Stop gracefully shuts down the runtime by canceling its context.
func (r *Runtime) Stop() {
	r.logger.Info("Runtime stop requested.")
	r.appCancel()
}

// Wait blocks until the runtime's context is cancelled.
func (r *Runtime) Wait() {
	<-r.appCtx.Done()
}

func (r *Runtime) Config() *config.Config {
	return r.cfg
}
