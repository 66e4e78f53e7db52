// Package progression turns a cumulative XP total into a level, the progress made
// inside that level and a rank letter.
//
// The curve is tiered: every block of ten levels shares one per-level cost, starting at
// 100 XP for levels 1-10 and growing by 100 XP per tier up to 1000 XP for levels 91-100.
// Everything in this package is a pure function of its arguments.
package progression

// ══════════════════════════════════════════════════════════════════════════════
// TIER COST CURVE
// ══════════════════════════════════════════════════════════════════════════════

const (
	// MinLevel is the level of a character with no XP.
	MinLevel = 1

	// MaxLevel is the progression cap.
	MaxLevel = 100

	// TierSize is the number of consecutive levels sharing one cost.
	TierSize = 10

	// TierStep is the per-level cost of the first tier and the increment between tiers.
	TierStep = 100

	// XPToMaxLevel is the cumulative XP needed to reach MaxLevel from MinLevel, the sum
	// of TierCost over levels 1-99: 10*(100+...+900) + 9*1000.
	// 55,000 (shown in older app builds) also counts the cost of level 100 itself.
	XPToMaxLevel = 54000
)

// TierCost returns the XP needed to complete the given level.
// Levels below 1 cost the same as level 1; levels past the cap cost nothing.
func TierCost(level int) int {
	if level < MinLevel {
		return TierStep
	}
	if level > MaxLevel {
		return 0
	}
	return Tier(level) * TierStep
}

// Tier returns the 1-based tier index of a level (1 for levels 1-10, 10 for 91-100).
// Out-of-range levels are clamped first.
func Tier(level int) int {
	level = clampLevel(level)
	return (level-1)/TierSize + 1
}

// CumulativeXP returns the total XP at which the given level is reached,
// i.e. the sum of TierCost over every level below it.
func CumulativeXP(level int) int {
	level = clampLevel(level)

	// Whole tiers below the level's tier, then the partial tier.
	fullTiers := (level - 1) / TierSize
	total := TierSize * TierStep * fullTiers * (fullTiers + 1) / 2
	total += ((level - 1) % TierSize) * (fullTiers + 1) * TierStep
	return total
}

// TierRow describes one level of the curve.
type TierRow struct {
	Level      int `json:"level" yaml:"level"`
	Tier       int `json:"tier" yaml:"tier"`
	Cost       int `json:"cost" yaml:"cost"`
	Cumulative int `json:"cumulative" yaml:"cumulative"`
}

// TierTable returns the full curve, one row per level from MinLevel to MaxLevel.
func TierTable() []TierRow {
	rows := make([]TierRow, 0, MaxLevel)
	cumulative := 0
	for level := MinLevel; level <= MaxLevel; level++ {
		rows = append(rows, TierRow{
			Level:      level,
			Tier:       Tier(level),
			Cost:       TierCost(level),
			Cumulative: cumulative,
		})
		cumulative += TierCost(level)
	}
	return rows
}

func clampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}
