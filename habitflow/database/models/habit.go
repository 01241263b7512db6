package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

type Habit struct {
	bun.BaseModel `bun:"table:habits,alias:h"`

	ID            int64  `bun:"id,pk,autoincrement"`
	OwnerID       int64  `bun:"owner_id,notnull"`
	SourceHabitID int64  `bun:"source_habit_id,nullzero"`
	Title         string `bun:"title,notnull"`
	Icon          string `bun:"icon,notnull,default:'✅'"`
	Goal          int    `bun:"goal,notnull,default:1"`
	Visibility    string `bun:"visibility,notnull,default:'private'"`

	// Social counters
	CopiedCount int `bun:"copied_count,notnull,default:0"`
	ShareCount  int `bun:"share_count,notnull,default:0"`

	// Cached streak stats, valid only through StatsRollupDate.
	// Today must always be derived live from completion rows.
	CompletedTotal  int       `bun:"completed_total,notnull,default:0"`
	StreakCurrent   int       `bun:"streak_current,notnull,default:0"`
	StreakBest      int       `bun:"streak_best,notnull,default:0"`
	StreakLastDate  time.Time `bun:"streak_last_date,nullzero"`
	StatsRollupDate time.Time `bun:"stats_rollup_date,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// GoalOrOne guards against zero goals left over from older rows.
func (h *Habit) GoalOrOne() int {
	if h.Goal < 1 {
		return 1
	}
	return h.Goal
}

type HabitCompletion struct {
	bun.BaseModel `bun:"table:habit_completions,alias:hc"`

	ID      int64     `bun:"id,pk,autoincrement"`
	HabitID int64     `bun:"habit_id,notnull,unique:uq_habit_completion_day"`
	Date    time.Time `bun:"date,notnull,unique:uq_habit_completion_day,type:date"`
	Count   int       `bun:"count,notnull,default:0"`
}

type HabitCopy struct {
	bun.BaseModel `bun:"table:habit_copies,alias:hcp"`

	ID            int64     `bun:"id,pk,autoincrement"`
	UserID        int64     `bun:"user_id,notnull,unique:uq_habit_copy"`
	SourceHabitID int64     `bun:"source_habit_id,notnull,unique:uq_habit_copy"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

type HabitShare struct {
	bun.BaseModel `bun:"table:habit_shares,alias:hs"`

	ID        int64     `bun:"id,pk,autoincrement"`
	UserID    int64     `bun:"user_id,notnull,unique:uq_habit_share"`
	HabitID   int64     `bun:"habit_id,notnull,unique:uq_habit_share"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
