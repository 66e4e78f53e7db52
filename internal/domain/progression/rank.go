package progression

// ══════════════════════════════════════════════════════════════════════════════
// RANK RESOLVER
// ══════════════════════════════════════════════════════════════════════════════

// Rank is the coarse letter grade derived from a level.
type Rank string

const (
	RankE Rank = "E"
	RankD Rank = "D"
	RankC Rank = "C"
	RankB Rank = "B"
	RankA Rank = "A"
	RankS Rank = "S"
)

// rankThresholds lists the minimum level of each rank, highest first.
var rankThresholds = []struct {
	rank     Rank
	minLevel int
}{
	{RankS, 85},
	{RankA, 65},
	{RankB, 45},
	{RankC, 25},
	{RankD, 10},
	{RankE, 0},
}

// ResolveRank maps a level to its rank letter.
func ResolveRank(level int) Rank {
	for _, t := range rankThresholds {
		if level >= t.minLevel {
			return t.rank
		}
	}
	return RankE
}

// Ranks returns every rank from lowest to highest.
func Ranks() []Rank {
	return []Rank{RankE, RankD, RankC, RankB, RankA, RankS}
}

// IsValid checks that r is one of the six known letters.
func (r Rank) IsValid() bool {
	switch r {
	case RankE, RankD, RankC, RankB, RankA, RankS:
		return true
	}
	return false
}

// MinLevel returns the lowest level holding this rank (1 for E, 0 for unknown ranks).
func (r Rank) MinLevel() int {
	if r == RankE {
		return MinLevel
	}
	for _, t := range rankThresholds {
		if t.rank == r {
			return t.minLevel
		}
	}
	return 0
}

// Next returns the rank above r, or r itself for S.
func (r Rank) Next() Rank {
	ranks := Ranks()
	for i, candidate := range ranks {
		if candidate == r && i+1 < len(ranks) {
			return ranks[i+1]
		}
	}
	return r
}

// String implements fmt.Stringer.
func (r Rank) String() string {
	return string(r)
}
