package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lifequest/lifequest-hub/internal/application/query"
	"github.com/lifequest/lifequest-hub/internal/domain/progression"
)

// StateReport is a resolved state plus its derived display values.
type StateReport struct {
	progression.State `yaml:",inline"`
	Percent           int `json:"percent" yaml:"percent"`
	XPToNextLevel     int `json:"xp_to_next_level" yaml:"xp_to_next_level"`
}

func newStateReport(s progression.State) StateReport {
	return StateReport{State: s, Percent: s.Percent(), XPToNextLevel: s.XPToNextLevel()}
}

// XPReport is the output of `questctl xp`.
type XPReport struct {
	StateReport `yaml:",inline"`
	Breakdown   progression.Breakdown `json:"breakdown" yaml:"breakdown"`
	Failures    []query.SourceFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
	ComputedAt  time.Time             `json:"computed_at" yaml:"computed_at"`
}

// NewXPCommand creates the xp command.
func NewXPCommand(rootOpts *RootOptions, factory RuntimeFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "xp",
		Short: "Compute the current XP, level and rank without writing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return withRuntime(cmd.Context(), factory, func(rt *Runtime) error {
				correlationID := uuid.NewString()
				f.VerboseLog("aggregating sources (correlation %s)", correlationID)

				result, err := rt.Calculator.Handle(cmd.Context(), query.ComputeTotalXPQuery{CorrelationID: correlationID})
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to compute xp", err)
				}

				report := XPReport{
					StateReport: newStateReport(result.State()),
					Breakdown:   result.Breakdown,
					Failures:    result.Failures,
					ComputedAt:  result.ComputedAt,
				}
				return f.Emit(report, func(w io.Writer) {
					renderState(w, report.State)
					fmt.Fprintln(w)
					renderBreakdown(w, report.Breakdown, report.Failures)
				})
			})
		},
	}
}

// NewLevelCommand creates the level command.
func NewLevelCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "level <xp>",
		Short: "Resolve the level and rank reached with a given XP total",
		Example: `  questctl level 640
  questctl level 54000 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			xp, err := strconv.Atoi(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("xp must be an integer, got %q", args[0]), err)
			}

			report := newStateReport(progression.Resolve(xp))
			return newFormatter(rootOpts, cmd).Emit(report, func(w io.Writer) {
				renderState(w, report.State)
			})
		},
	}
}
