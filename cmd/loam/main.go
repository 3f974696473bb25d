package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/loam-mem/loam/internal/config"
	"github.com/loam-mem/loam/internal/docstore"
	"github.com/loam-mem/loam/internal/locator"
	"github.com/loam-mem/loam/internal/memory"
	"github.com/loam-mem/loam/internal/snapshot"
	"github.com/loam-mem/loam/internal/workspace"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// services bundles everything the CLI commands need.
type services struct {
	cfg *config.Config
	ws  *workspace.Service
	mem *memory.Service
	eng *snapshot.Engine
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return true
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

func main() {
	// Handle --help/--version before opening the store (no store needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	baseDir := filepath.Join(homeDir, ".loam")

	store, err := docstore.Open(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to open document store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid config: %v\n", err)
		os.Exit(1)
	}
	store.ConfigurePool(cfg)

	app := newCLIApp(buildServices(store, cfg))
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// buildServices wires the store, services, locator, and snapshot engine.
func buildServices(store docstore.Store, cfg *config.Config) *services {
	// CLI output is JSON on stdout; diagnostics stay out of the way unless
	// LOAM_DEBUG asks for them on stderr.
	var logger *slog.Logger
	if os.Getenv("LOAM_DEBUG") != "" {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	} else {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	col := workspace.NewCollectionStore(store, logger)
	ws := workspace.NewService(col, logger)
	mem := memory.NewService(col, logger)

	loc := locator.New(locator.OptionsFromConfig(cfg), logger)
	loc.Register(snapshot.WorkspaceServiceName, ws)
	loc.Register(snapshot.MemoryServiceName, mem)

	return &services{
		cfg: cfg,
		ws:  ws,
		mem: mem,
		eng: snapshot.NewEngine(loc, cfg, logger),
	}
}
