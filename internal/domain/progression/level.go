package progression

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL RESOLVER
// ══════════════════════════════════════════════════════════════════════════════

// State is the progression derived from a single XP total.
// It is recomputed from scratch on every call and is never a source of truth.
type State struct {
	// TotalXP is the clamped (non-negative) input total.
	TotalXP int `json:"total_xp" yaml:"total_xp"`

	// Level is in [MinLevel, MaxLevel].
	Level int `json:"level" yaml:"level"`

	// CurrentXP is the XP earned inside the current level.
	// Always below NextLevelXP while Level < MaxLevel; 0 at the cap.
	CurrentXP int `json:"current_xp" yaml:"current_xp"`

	// NextLevelXP is the cost of the current level; 0 at the cap.
	NextLevelXP int `json:"next_level_xp" yaml:"next_level_xp"`

	// OverflowXP is the XP earned past XPToMaxLevel. Only non-zero at the cap.
	OverflowXP int `json:"overflow_xp,omitempty" yaml:"overflow_xp,omitempty"`

	// Rank is filled by Resolve; ResolveLevel leaves it empty.
	Rank Rank `json:"rank,omitempty" yaml:"rank,omitempty"`
}

// ResolveLevel walks the tier curve to find the level reached with totalXP.
// Negative totals are treated as zero.
//
// At MaxLevel progress is capped: CurrentXP and NextLevelXP are both 0 and any
// surplus is reported as OverflowXP.
func ResolveLevel(totalXP int) State {
	if totalXP < 0 {
		totalXP = 0
	}

	level := MinLevel
	used := 0
	for level < MaxLevel {
		need := TierCost(level)
		if used+need > totalXP {
			break
		}
		used += need
		level++
	}

	state := State{
		TotalXP:     totalXP,
		Level:       level,
		CurrentXP:   max(0, totalXP-used),
		NextLevelXP: TierCost(level),
	}

	if level == MaxLevel {
		state.OverflowXP = state.CurrentXP
		state.CurrentXP = 0
		state.NextLevelXP = 0
	}

	return state
}

// Resolve resolves both the level and the rank for totalXP.
func Resolve(totalXP int) State {
	state := ResolveLevel(totalXP)
	state.Rank = ResolveRank(state.Level)
	return state
}

// IsMaxLevel reports whether the state sits at the progression cap.
func (s State) IsMaxLevel() bool {
	return s.Level >= MaxLevel
}

// Percent returns progress through the current level in [0, 100].
func (s State) Percent() int {
	if s.IsMaxLevel() || s.NextLevelXP <= 0 {
		return 100
	}
	return s.CurrentXP * 100 / s.NextLevelXP
}

// XPToNextLevel returns how much XP is still missing to level up (0 at the cap).
func (s State) XPToNextLevel() int {
	if s.IsMaxLevel() {
		return 0
	}
	return s.NextLevelXP - s.CurrentXP
}
