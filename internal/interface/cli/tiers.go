package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/lifequest/lifequest-hub/internal/domain/progression"
)

// TiersReport is the output of `questctl tiers`.
type TiersReport struct {
	MaxLevel     int                   `json:"max_level" yaml:"max_level"`
	XPToMaxLevel int                   `json:"xp_to_max_level" yaml:"xp_to_max_level"`
	Tiers        []progression.TierRow `json:"tiers" yaml:"tiers"`
}

// NewTiersCommand creates the tiers command.
func NewTiersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "Print the level curve: cost and cumulative XP of every level",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report := TiersReport{
				MaxLevel:     progression.MaxLevel,
				XPToMaxLevel: progression.XPToMaxLevel,
				Tiers:        progression.TierTable(),
			}
			return newFormatter(rootOpts, cmd).Emit(report, func(w io.Writer) {
				renderTiers(w, report.Tiers)
			})
		},
	}
}
