package progression

import "math"

// ══════════════════════════════════════════════════════════════════════════════
// XP SOURCES AND WEIGHTS
// ══════════════════════════════════════════════════════════════════════════════

// Source identifies one XP-contributing content collection.
type Source string

const (
	SourceSkills         Source = "skills"
	SourceProjects       Source = "projects"
	SourceCertifications Source = "certifications"
	SourceExperiences    Source = "experiences"
	SourceAchievements   Source = "achievements"
	SourceCourses        Source = "courses"
	SourceHabits         Source = "habits"
)

// Sources returns every XP source in breakdown order.
func Sources() []Source {
	return []Source{
		SourceSkills,
		SourceProjects,
		SourceCertifications,
		SourceExperiences,
		SourceAchievements,
		SourceCourses,
		SourceHabits,
	}
}

// Per-unit weights.
const (
	XPPerSkillLevel      = 5
	XPPerFeaturedProject = 75
	XPPerProject         = 50
	XPPerCertification   = 100
	XPPerExperience      = 75
	XPPerAchievement     = 100
	XPPerCourseProgress  = 0.5
	XPPerHabitStreakDay  = 2
)

// SkillXP is the contribution of one skill at the given level.
func SkillXP(level int) int {
	return NonNegative(level * XPPerSkillLevel)
}

// ProjectXP is the contribution of one project.
func ProjectXP(featured bool) int {
	if featured {
		return XPPerFeaturedProject
	}
	return XPPerProject
}

// CertificationsXP is the contribution of count certifications.
func CertificationsXP(count int) int {
	return NonNegative(count * XPPerCertification)
}

// ExperiencesXP is the contribution of count experiences.
func ExperiencesXP(count int) int {
	return NonNegative(count * XPPerExperience)
}

// AchievementsXP is the contribution of count published, non-archived achievements.
func AchievementsXP(count int) int {
	return NonNegative(count * XPPerAchievement)
}

// CourseXP is the contribution of one course at the given progress percentage,
// floored. NaN and infinite progress contribute nothing.
func CourseXP(progress float64) int {
	return FiniteXP(math.Floor(progress * XPPerCourseProgress))
}

// HabitXP is the contribution of one habit with the given streak.
func HabitXP(streak int) int {
	return NonNegative(streak * XPPerHabitStreakDay)
}

// NonNegative clamps v at zero.
func NonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// FiniteXP converts a float contribution to whole XP, mapping NaN, infinities and
// negatives to zero.
func FiniteXP(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}

// ══════════════════════════════════════════════════════════════════════════════
// BREAKDOWN
// ══════════════════════════════════════════════════════════════════════════════

// Breakdown is the per-source decomposition of a total XP.
type Breakdown struct {
	Skills         int `json:"skills" yaml:"skills"`
	Projects       int `json:"projects" yaml:"projects"`
	Certifications int `json:"certifications" yaml:"certifications"`
	Experiences    int `json:"experiences" yaml:"experiences"`
	Achievements   int `json:"achievements" yaml:"achievements"`
	Courses        int `json:"courses" yaml:"courses"`
	Habits         int `json:"habits" yaml:"habits"`
}

// Total sums every source, clamped at zero.
func (b Breakdown) Total() int {
	return NonNegative(b.Skills + b.Projects + b.Certifications + b.Experiences +
		b.Achievements + b.Courses + b.Habits)
}

// Get returns the contribution of a single source.
func (b Breakdown) Get(source Source) int {
	switch source {
	case SourceSkills:
		return b.Skills
	case SourceProjects:
		return b.Projects
	case SourceCertifications:
		return b.Certifications
	case SourceExperiences:
		return b.Experiences
	case SourceAchievements:
		return b.Achievements
	case SourceCourses:
		return b.Courses
	case SourceHabits:
		return b.Habits
	}
	return 0
}

// Set stores the contribution of a single source, clamped at zero.
// Unknown sources are ignored.
func (b *Breakdown) Set(source Source, xp int) {
	xp = NonNegative(xp)
	switch source {
	case SourceSkills:
		b.Skills = xp
	case SourceProjects:
		b.Projects = xp
	case SourceCertifications:
		b.Certifications = xp
	case SourceExperiences:
		b.Experiences = xp
	case SourceAchievements:
		b.Achievements = xp
	case SourceCourses:
		b.Courses = xp
	case SourceHabits:
		b.Habits = xp
	}
}
