// Command questctl inspects and syncs LifeQuest progression from a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/lifequest/lifequest-hub/config"
	"github.com/lifequest/lifequest-hub/internal/app"
	"github.com/lifequest/lifequest-hub/internal/interface/cli"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
		os.Exit(cli.ExitCommandError)
	}

	root := cli.NewRootCommand(openRuntime, version)
	err := root.ExecuteContext(context.Background())
	os.Exit(cli.GetExitCode(err))
}

// openRuntime loads the config and opens the backend. Logs stay quiet unless
// LOG_LEVEL asks for them, so command output is not interleaved with them.
func openRuntime(ctx context.Context) (*cli.Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if os.Getenv("LOG_LEVEL") != "" {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(cfg.Observability.LogLevel)}))
	}

	backend, err := app.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	rt := &cli.Runtime{
		Calculator: backend.Calculator,
		Syncer:     backend.Syncer,
		Close:      backend.Close,
	}
	if backend.Migrator != nil {
		rt.Migrator = backend.Migrator
	}
	return rt, nil
}

func slogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
