package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/InsulaLabs/hmacfs/runtime"
)

func main() {
	// The default config file path can be overridden with --config.
	rt, err := runtime.New(os.Args[1:], "hmacfs.yaml")
	if errors.Is(err, runtime.ErrConfigGenerated) {
		return
	}
	if err != nil {
		slog.Error("Failed to initialize runtime", "error", err)
		os.Exit(1)
	}

	if err := rt.Run(); err != nil {
		slog.Error("Runtime exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Application exiting.")
}
