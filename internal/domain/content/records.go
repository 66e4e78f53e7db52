package content

import (
	"time"

	"github.com/lifequest/lifequest-hub/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// TYPED RECORDS
// Each variant carries only the fields the calculator reads.
// ══════════════════════════════════════════════════════════════════════════════

// Skill is a tracked skill with a self-assessed level (0-100).
type Skill struct {
	ID    string
	Level int
}

// XP returns the skill's contribution.
func (s Skill) XP() int { return progression.SkillXP(s.Level) }

// Project is a portfolio project.
type Project struct {
	ID         string
	IsFeatured bool
}

// XP returns the project's contribution.
func (p Project) XP() int { return progression.ProjectXP(p.IsFeatured) }

// Certification counts by existence only.
type Certification struct {
	ID string
}

// Experience counts by existence only.
type Experience struct {
	ID string
}

// Achievement counts by existence only; the store query keeps published,
// non-archived rows.
type Achievement struct {
	ID string
}

// Course is a course with a completion percentage (0-100).
type Course struct {
	ID       string
	Progress float64
}

// XP returns the course's contribution.
func (c Course) XP() int { return progression.CourseXP(c.Progress) }

// Habit is a tracked habit with its current streak in days.
type Habit struct {
	ID     string
	Streak int
}

// XP returns the habit's contribution.
func (h Habit) XP() int { return progression.HabitXP(h.Streak) }

// Profile is the single row the progression is persisted to.
type Profile struct {
	ID        string
	Level     int
	XP        int
	Rank      progression.Rank
	TotalXP   int
	UpdatedAt time.Time
}

// Profile column names.
const (
	FieldLevel     = "level"
	FieldXP        = "xp"
	FieldRank      = "rank"
	FieldTotalXP   = "total_xp"
	FieldUpdatedAt = "updated_at"

	FieldIsFeatured  = "is_featured"
	FieldProgress    = "progress"
	FieldStreak      = "streak"
	FieldIsPublished = "is_published"
	FieldArchivedAt  = "archived_at"
)

// ══════════════════════════════════════════════════════════════════════════════
// DECODERS
// ══════════════════════════════════════════════════════════════════════════════

// DecodeSkills maps rows of the skills collection.
func DecodeSkills(records []Record) []Skill {
	out := make([]Skill, 0, len(records))
	for _, r := range records {
		out = append(out, Skill{ID: r.ID(), Level: r.Int(FieldLevel)})
	}
	return out
}

// DecodeProjects maps rows of the projects collection.
func DecodeProjects(records []Record) []Project {
	out := make([]Project, 0, len(records))
	for _, r := range records {
		out = append(out, Project{ID: r.ID(), IsFeatured: r.Bool(FieldIsFeatured)})
	}
	return out
}

// DecodeCertifications maps rows of the certifications collection.
func DecodeCertifications(records []Record) []Certification {
	out := make([]Certification, 0, len(records))
	for _, r := range records {
		out = append(out, Certification{ID: r.ID()})
	}
	return out
}

// DecodeExperiences maps rows of the experiences collection.
func DecodeExperiences(records []Record) []Experience {
	out := make([]Experience, 0, len(records))
	for _, r := range records {
		out = append(out, Experience{ID: r.ID()})
	}
	return out
}

// DecodeAchievements maps rows of the achievements collection.
func DecodeAchievements(records []Record) []Achievement {
	out := make([]Achievement, 0, len(records))
	for _, r := range records {
		out = append(out, Achievement{ID: r.ID()})
	}
	return out
}

// DecodeCourses maps rows of the courses collection.
func DecodeCourses(records []Record) []Course {
	out := make([]Course, 0, len(records))
	for _, r := range records {
		out = append(out, Course{ID: r.ID(), Progress: r.Float(FieldProgress)})
	}
	return out
}

// DecodeHabits maps rows of the habits collection.
func DecodeHabits(records []Record) []Habit {
	out := make([]Habit, 0, len(records))
	for _, r := range records {
		out = append(out, Habit{ID: r.ID(), Streak: r.Int(FieldStreak)})
	}
	return out
}

// DecodeProfile maps a profile row.
func DecodeProfile(r Record) Profile {
	p := Profile{
		ID:      r.ID(),
		Level:   r.Int(FieldLevel),
		XP:      r.Int(FieldXP),
		Rank:    progression.Rank(r.Text(FieldRank)),
		TotalXP: r.Int(FieldTotalXP),
	}
	if t, ok := r[FieldUpdatedAt].(time.Time); ok {
		p.UpdatedAt = t
	}
	return p
}

// ProfileFields returns the columns Profile Sync writes for a resolved state.
// The xp column holds the XP earned inside the current level.
func ProfileFields(state progression.State, now time.Time) map[string]any {
	return map[string]any{
		FieldLevel:     state.Level,
		FieldXP:        state.CurrentXP,
		FieldRank:      string(state.Rank),
		FieldTotalXP:   state.TotalXP,
		FieldUpdatedAt: now,
	}
}

// AchievementsQuery keeps published achievements that are not archived.
func AchievementsQuery() Query {
	return Query{
		Filters: []Filter{
			IsNull(FieldArchivedAt),
			Eq(FieldIsPublished, true),
		},
	}
}
