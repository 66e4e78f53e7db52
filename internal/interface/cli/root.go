// Package cli implements questctl, the operator command line for the
// progression hub.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/lifequest/lifequest-hub/internal/application/command"
	"github.com/lifequest/lifequest-hub/internal/application/query"
	"github.com/lifequest/lifequest-hub/internal/infrastructure/persistence/postgres"
)

// XPCalculator computes a fresh XP breakdown.
type XPCalculator interface {
	Handle(ctx context.Context, q query.ComputeTotalXPQuery) (*query.ComputeTotalXPResult, error)
}

// ProfileSyncer runs a profile sync.
type ProfileSyncer interface {
	Handle(ctx context.Context, cmd command.SyncProfileCommand) (*command.SyncProfileResult, error)
}

// Migrator manages the database schema. Only the postgres store has one.
type Migrator interface {
	Migrate(ctx context.Context) (int, error)
	Rollback(ctx context.Context) (int, error)
	Status(ctx context.Context) ([]postgres.Migration, error)
}

// Runtime is the wired backend the data commands run against.
type Runtime struct {
	Calculator XPCalculator
	Syncer     ProfileSyncer

	// Migrator is nil when the configured store has no migrations.
	Migrator Migrator

	// Close releases the store connections. May be nil.
	Close func() error
}

// RuntimeFactory opens the backend. It is only called by commands that need
// data, so the pure commands (level, tiers) run without a database.
type RuntimeFactory func(ctx context.Context) (*Runtime, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Output  string // "text" | "json" | "yaml"
}

// ValidOutputs defines the allowed output formats.
var ValidOutputs = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command for questctl.
func NewRootCommand(factory RuntimeFactory, version string) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "questctl",
		Short:   "questctl - LifeQuest progression tools",
		Long:    "Inspect and sync the XP, level and rank computed from your LifeQuest content.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidOutputs, opts.Output) {
				return fmt.Errorf("invalid output %q: must be one of %v", opts.Output, ValidOutputs)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "text", "output format (text|json|yaml)")

	cmd.AddCommand(NewXPCommand(opts, factory))
	cmd.AddCommand(NewSyncCommand(opts, factory))
	cmd.AddCommand(NewLevelCommand(opts))
	cmd.AddCommand(NewTiersCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts, factory))

	return cmd
}

// withRuntime opens the backend, runs fn and closes it again.
func withRuntime(ctx context.Context, factory RuntimeFactory, fn func(*Runtime) error) error {
	if factory == nil {
		return NewExitError(ExitCommandError, "no backend configured")
	}
	rt, err := factory(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	if rt.Close != nil {
		defer func() { _ = rt.Close() }()
	}
	return fn(rt)
}
