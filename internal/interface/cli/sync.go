package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lifequest/lifequest-hub/internal/application/command"
	"github.com/lifequest/lifequest-hub/internal/application/query"
	"github.com/lifequest/lifequest-hub/internal/domain/progression"
	"github.com/lifequest/lifequest-hub/internal/domain/shared"
)

// SyncReport is the output of `questctl sync`.
type SyncReport struct {
	ProfileID    string `json:"profile_id" yaml:"profile_id"`
	Persisted    bool   `json:"persisted" yaml:"persisted"`
	LevelChanged bool   `json:"level_changed" yaml:"level_changed"`
	RankChanged  bool   `json:"rank_changed" yaml:"rank_changed"`
	StateReport  `yaml:",inline"`
	Breakdown    progression.Breakdown `json:"breakdown" yaml:"breakdown"`
	Failures     []query.SourceFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	ProfileID string
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions, factory RuntimeFactory) *cobra.Command {
	opts := &SyncOptions{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Recompute the progression and write it onto the profile",
		Long: `Recompute XP, level and rank from every content collection and write
{level, xp, rank, total_xp} onto the profile row.

Without --profile the only profile row in the store is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return withRuntime(cmd.Context(), factory, func(rt *Runtime) error {
				return runSync(cmd, f, rt, opts)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.ProfileID, "profile", "p", "", "profile id (uuid); defaults to the singleton profile")

	return cmd
}

func runSync(cmd *cobra.Command, f *OutputFormatter, rt *Runtime, opts *SyncOptions) error {
	result, err := rt.Syncer.Handle(cmd.Context(), command.SyncProfileCommand{
		ProfileID:     opts.ProfileID,
		Reason:        "cli",
		CorrelationID: uuid.NewString(),
	})
	if result == nil {
		if shared.IsValidation(err) {
			return WrapExitError(ExitCommandError, "invalid profile id", err)
		}
		return WrapExitError(ExitCommandError, "sync failed", err)
	}

	report := SyncReport{
		ProfileID:    result.ProfileID,
		Persisted:    result.Persisted,
		LevelChanged: result.LevelChanged,
		RankChanged:  result.RankChanged,
		StateReport:  newStateReport(result.State),
		Breakdown:    result.Breakdown,
		Failures:     result.Failures,
	}
	if emitErr := f.Emit(report, func(w io.Writer) { renderSync(w, report) }); emitErr != nil {
		return emitErr
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, shared.ErrProfileNotFound):
		return NewExitError(ExitFailure, "no profile record found; computed values were not saved")
	case errors.Is(err, shared.ErrProfileWriteFailed):
		return WrapExitError(ExitFailure, "computed values could not be saved", err)
	default:
		return WrapExitError(ExitCommandError, "sync failed", err)
	}
}

func renderSync(w io.Writer, r SyncReport) {
	renderState(w, r.State)
	fmt.Fprintln(w)

	switch {
	case !r.Persisted:
		fmt.Fprintln(w, "Profile      not updated")
	case r.LevelChanged || r.RankChanged:
		fmt.Fprintf(w, "Profile      %s updated\n", r.ProfileID)
	default:
		fmt.Fprintf(w, "Profile      %s unchanged\n", r.ProfileID)
	}
}
