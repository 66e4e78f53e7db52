package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/lifequest/lifequest-hub/internal/application/query"
	"github.com/lifequest/lifequest-hub/internal/domain/progression"
)

const barWidth = 20

var rankColors = map[progression.Rank]color.Attribute{
	progression.RankE: color.FgWhite,
	progression.RankD: color.FgGreen,
	progression.RankC: color.FgCyan,
	progression.RankB: color.FgBlue,
	progression.RankA: color.FgMagenta,
	progression.RankS: color.FgHiYellow,
}

func rankLabel(r progression.Rank) string {
	attr, ok := rankColors[r]
	if !ok {
		return string(r)
	}
	return color.New(attr, color.Bold).Sprint(string(r))
}

// progressBar renders percent in [0, 100] as a fixed-width bar.
func progressBar(percent int) string {
	percent = min(max(percent, 0), 100)
	filled := percent * barWidth / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled) + "]"
}

func renderState(w io.Writer, s progression.State) {
	fmt.Fprintf(w, "Total XP     %d\n", s.TotalXP)
	fmt.Fprintf(w, "Level        %d / %d\n", s.Level, progression.MaxLevel)

	if s.IsMaxLevel() {
		fmt.Fprintf(w, "Progress     MAX  %s  +%d XP overflow\n", progressBar(100), s.OverflowXP)
	} else {
		fmt.Fprintf(w, "Progress     %d / %d XP  %s  %d%%\n", s.CurrentXP, s.NextLevelXP, progressBar(s.Percent()), s.Percent())
		fmt.Fprintf(w, "To next      %d XP\n", s.XPToNextLevel())
	}

	if next := s.Rank.Next(); next != s.Rank {
		fmt.Fprintf(w, "Rank         %s  (next: %s at level %d)\n", rankLabel(s.Rank), next, next.MinLevel())
	} else {
		fmt.Fprintf(w, "Rank         %s  (top rank)\n", rankLabel(s.Rank))
	}
}

func renderBreakdown(w io.Writer, b progression.Breakdown, failures []query.SourceFailure) {
	failed := make(map[progression.Source]query.SourceFailure, len(failures))
	for _, f := range failures {
		failed[f.Source] = f
	}

	fmt.Fprintln(w, "Sources")
	for _, src := range progression.Sources() {
		line := fmt.Sprintf("  %-16s %6d", src, b.Get(src))
		if f, ok := failed[src]; ok {
			note := "unavailable"
			if f.Missing {
				note = "not provisioned"
			}
			line += "  " + color.New(color.FgYellow).Sprint("! "+note)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "  %-16s %6d\n", "total", b.Total())
}

func renderTiers(w io.Writer, rows []progression.TierRow) {
	fmt.Fprintln(w, "LEVEL  TIER   COST  CUMULATIVE")
	for _, r := range rows {
		fmt.Fprintf(w, "%5d  %4d  %5d  %10d\n", r.Level, r.Tier, r.Cost, r.Cumulative)
	}
	fmt.Fprintf(w, "XP to level %d: %d\n", progression.MaxLevel, progression.XPToMaxLevel)
}
