package progression

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierCost(t *testing.T) {
	tests := []struct {
		level int
		want  int
	}{
		{-5, 100},
		{0, 100},
		{1, 100},
		{10, 100},
		{11, 200},
		{20, 200},
		{21, 300},
		{55, 600},
		{90, 900},
		{91, 1000},
		{100, 1000},
		{101, 0},
		{1000, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TierCost(tt.level), "level %d", tt.level)
	}
}

func TestTierCost_StepFunction(t *testing.T) {
	plateaus := make(map[int]int)
	prev := 0
	for level := MinLevel; level <= MaxLevel; level++ {
		cost := TierCost(level)
		assert.GreaterOrEqual(t, cost, prev, "cost must not decrease at level %d", level)
		plateaus[cost]++
		prev = cost
	}

	require.Len(t, plateaus, 10)
	for cost, width := range plateaus {
		assert.Equal(t, TierSize, width, "plateau %d", cost)
	}
}

func TestCumulativeXP(t *testing.T) {
	assert.Equal(t, 0, CumulativeXP(1))
	assert.Equal(t, 100, CumulativeXP(2))
	assert.Equal(t, 1000, CumulativeXP(11))
	assert.Equal(t, 1200, CumulativeXP(12))
	assert.Equal(t, XPToMaxLevel, CumulativeXP(MaxLevel))

	sum := 0
	for level := MinLevel; level < MaxLevel; level++ {
		assert.Equal(t, sum, CumulativeXP(level), "level %d", level)
		sum += TierCost(level)
	}
	assert.Equal(t, 54000, sum)
}

func TestTierTable(t *testing.T) {
	rows := TierTable()
	require.Len(t, rows, MaxLevel)

	assert.Equal(t, TierRow{Level: 1, Tier: 1, Cost: 100, Cumulative: 0}, rows[0])
	assert.Equal(t, TierRow{Level: 100, Tier: 10, Cost: 1000, Cumulative: XPToMaxLevel}, rows[99])
}

func TestResolveLevel_Boundaries(t *testing.T) {
	tests := []struct {
		name        string
		totalXP     int
		level       int
		currentXP   int
		nextLevelXP int
	}{
		{"zero", 0, 1, 0, 100},
		{"negative treated as zero", -250, 1, 0, 100},
		{"just below level 2", 99, 1, 99, 100},
		{"exactly level 2", 100, 2, 0, 100},
		{"end to end example", 640, 7, 40, 100},
		{"first tier 2 level", 1000, 11, 0, 200},
		{"inside tier 2", 1150, 11, 150, 200},
		{"one below cap", 53999, 99, 999, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := ResolveLevel(tt.totalXP)
			assert.Equal(t, tt.level, state.Level)
			assert.Equal(t, tt.currentXP, state.CurrentXP)
			assert.Equal(t, tt.nextLevelXP, state.NextLevelXP)
			assert.Empty(t, state.Rank)
		})
	}
}

func TestResolveLevel_Cap(t *testing.T) {
	state := ResolveLevel(XPToMaxLevel)
	assert.Equal(t, MaxLevel, state.Level)
	assert.Equal(t, 0, state.CurrentXP)
	assert.Equal(t, 0, state.NextLevelXP)
	assert.Equal(t, 0, state.OverflowXP)

	state = ResolveLevel(XPToMaxLevel + 12345)
	assert.Equal(t, MaxLevel, state.Level)
	assert.Equal(t, 0, state.CurrentXP)
	assert.Equal(t, 0, state.NextLevelXP)
	assert.Equal(t, 12345, state.OverflowXP)
	assert.True(t, state.IsMaxLevel())
	assert.Equal(t, 100, state.Percent())
	assert.Equal(t, 0, state.XPToNextLevel())

	state = ResolveLevel(math.MaxInt32)
	assert.Equal(t, MaxLevel, state.Level)
}

func TestResolveLevel_Invariants(t *testing.T) {
	prevLevel := MinLevel
	for total := 0; total <= XPToMaxLevel+2000; total += 37 {
		state := ResolveLevel(total)

		require.GreaterOrEqual(t, state.Level, MinLevel)
		require.LessOrEqual(t, state.Level, MaxLevel)
		require.GreaterOrEqual(t, state.CurrentXP, 0)
		if state.Level < MaxLevel {
			require.Less(t, state.CurrentXP, state.NextLevelXP, "total %d", total)
			require.Equal(t, total, CumulativeXP(state.Level)+state.CurrentXP)
		}
		require.GreaterOrEqual(t, state.Level, prevLevel, "level must be monotonic at %d", total)
		prevLevel = state.Level
	}
}

func TestResolveLevel_RoundTrip(t *testing.T) {
	for level := MinLevel; level < MaxLevel; level++ {
		state := ResolveLevel(CumulativeXP(level))
		assert.Equal(t, level, state.Level)
		assert.Equal(t, 0, state.CurrentXP)
	}
}

func TestResolveRank(t *testing.T) {
	tests := []struct {
		level int
		want  Rank
	}{
		{1, RankE},
		{9, RankE},
		{10, RankD},
		{24, RankD},
		{25, RankC},
		{44, RankC},
		{45, RankB},
		{64, RankB},
		{65, RankA},
		{84, RankA},
		{85, RankS},
		{100, RankS},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveRank(tt.level), "level %d", tt.level)
	}
}

func TestRank_Helpers(t *testing.T) {
	assert.True(t, RankB.IsValid())
	assert.False(t, Rank("Z").IsValid())

	assert.Equal(t, 1, RankE.MinLevel())
	assert.Equal(t, 45, RankB.MinLevel())
	assert.Equal(t, 85, RankS.MinLevel())

	assert.Equal(t, RankD, RankE.Next())
	assert.Equal(t, RankS, RankS.Next())

	for _, r := range Ranks() {
		assert.Equal(t, r, ResolveRank(r.MinLevel()))
	}
}

func TestResolve_EndToEnd(t *testing.T) {
	state := Resolve(640)
	assert.Equal(t, State{
		TotalXP:     640,
		Level:       7,
		CurrentXP:   40,
		NextLevelXP: 100,
		Rank:        RankE,
	}, state)
	assert.Equal(t, 40, state.Percent())
	assert.Equal(t, 60, state.XPToNextLevel())
}

func TestWeights(t *testing.T) {
	assert.Equal(t, 400, SkillXP(80))
	assert.Equal(t, 0, SkillXP(-3))
	assert.Equal(t, 75, ProjectXP(true))
	assert.Equal(t, 50, ProjectXP(false))
	assert.Equal(t, 200, CertificationsXP(2))
	assert.Equal(t, 75, ExperiencesXP(1))
	assert.Equal(t, 300, AchievementsXP(3))
	assert.Equal(t, 20, CourseXP(40))
	assert.Equal(t, 16, CourseXP(33))
	assert.Equal(t, 0, CourseXP(math.NaN()))
	assert.Equal(t, 0, CourseXP(math.Inf(1)))
	assert.Equal(t, 20, HabitXP(10))
}

func TestBreakdown(t *testing.T) {
	var b Breakdown
	for i, source := range Sources() {
		b.Set(source, (i+1)*10)
	}
	b.Set(Source("unknown"), 999)
	b.Set(SourceHabits, -5)

	assert.Equal(t, 10, b.Get(SourceSkills))
	assert.Equal(t, 60, b.Get(SourceCourses))
	assert.Equal(t, 0, b.Get(SourceHabits))
	assert.Equal(t, 0, b.Get(Source("unknown")))
	assert.Equal(t, 210, b.Total())
}
