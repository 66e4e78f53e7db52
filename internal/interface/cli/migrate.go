package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// MigrateResult is the output of `migrate up` and `migrate down`.
type MigrateResult struct {
	Direction string `json:"direction" yaml:"direction"`
	Applied   int    `json:"applied" yaml:"applied"`
}

// NewMigrateCommand creates the migrate command group.
func NewMigrateCommand(rootOpts *RootOptions, factory RuntimeFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return withMigrator(cmd, factory, func(m Migrator) error {
				n, err := m.Migrate(cmd.Context())
				if err != nil {
					return WrapExitError(ExitCommandError, "migration failed", err)
				}
				return f.Emit(MigrateResult{Direction: "up", Applied: n}, func(w io.Writer) {
					fmt.Fprintf(w, "Applied %d migration(s)\n", n)
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return withMigrator(cmd, factory, func(m Migrator) error {
				n, err := m.Rollback(cmd.Context())
				if err != nil {
					return WrapExitError(ExitCommandError, "rollback failed", err)
				}
				return f.Emit(MigrateResult{Direction: "down", Applied: n}, func(w io.Writer) {
					fmt.Fprintf(w, "Rolled back %d migration(s)\n", n)
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return withMigrator(cmd, factory, func(m Migrator) error {
				migrations, err := m.Status(cmd.Context())
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read migration status", err)
				}
				return f.Emit(migrations, func(w io.Writer) {
					for _, mig := range migrations {
						state := "pending"
						if mig.IsApplied {
							state = "applied " + mig.AppliedAt.Format("2006-01-02 15:04")
						}
						fmt.Fprintf(w, "%03d  %-32s %s\n", mig.Version, mig.Name, state)
					}
				})
			})
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, factory RuntimeFactory, fn func(Migrator) error) error {
	return withRuntime(cmd.Context(), factory, func(rt *Runtime) error {
		if rt.Migrator == nil {
			return NewExitError(ExitCommandError, "migrations require STORE_DRIVER=postgres")
		}
		return fn(rt.Migrator)
	})
}
