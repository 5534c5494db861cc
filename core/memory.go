package core

import "time"

// MemoryCategory classifies what kind of fact a memory records.
type MemoryCategory string

const (
	CategoryRaceEvent       MemoryCategory = "race_event"
	CategoryGoal            MemoryCategory = "goal"
	CategoryInjury          MemoryCategory = "injury"
	CategoryTrainingContext MemoryCategory = "training_context"
	CategoryPersonal        MemoryCategory = "personal"
)

// ParseMemoryCategory maps a string onto a known category, falling back to
// personal for anything unrecognized.
func ParseMemoryCategory(s string) MemoryCategory {
	switch MemoryCategory(s) {
	case CategoryRaceEvent, CategoryGoal, CategoryInjury, CategoryTrainingContext, CategoryPersonal:
		return MemoryCategory(s)
	}
	return CategoryPersonal
}

// Memory is one persisted fact about an athlete, keyed to the hashed Garmin
// user ID. Deleted memories are retained with DeletedAt set.
type Memory struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Key           string         `json:"key"`
	Content       string         `json:"content"`
	Category      MemoryCategory `json:"category"`
	SourceContext string         `json:"source_context,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
}
