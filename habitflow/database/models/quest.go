package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Quest predicate vocabulary. This is a closed set: the evaluator
// switches over it and ignores unknown types.
const (
	QuestCreateHabit        = "create_habit"
	QuestPublicHabitCreated = "public_habit_created"
	QuestJoinPublicHabit    = "join_public_habit"
	QuestShareHabit         = "share_habit"
	QuestStreakDays         = "streak_days"
	QuestLevelReached       = "level_reached"
	QuestPopularHabit       = "popular_habit"
	QuestTrendSetter        = "trend_setter"
	QuestMonthlyXP          = "monthly_xp"
	QuestCommunitySupport   = "community_support"
	QuestMentorStreak       = "mentor_streak"
	QuestInfluentialHabit   = "influential_habit"
)

type Quest struct {
	bun.BaseModel `bun:"table:quests,alias:q"`

	ID          int64           `bun:"id,pk,autoincrement"`
	Code        string          `bun:"code,notnull,unique"`
	Title       string          `bun:"title,notnull"`
	Description string          `bun:"description"`
	XP          int64           `bun:"xp,notnull,default:0"`
	Group       string          `bun:"grp,notnull"`
	Type        string          `bun:"type,notnull"`
	Target      int             `bun:"target,notnull,default:1"`
	Metadata    json.RawMessage `bun:"metadata,type:jsonb,default:'{}'"`
	Order       int             `bun:"ord,notnull,default:0"`
	IsActive    bool            `bun:"is_active,notnull,default:true"`
}

type QuestMetadata struct {
	MinAdditions  int `json:"min_additions"`
	MinUserStreak int `json:"min_user_streak"`
	Habits        int `json:"habits"`
}

func (q *Quest) DecodeMetadata() QuestMetadata {
	m := QuestMetadata{MinAdditions: 10, MinUserStreak: 5, Habits: 5}
	if len(q.Metadata) > 0 {
		_ = json.Unmarshal(q.Metadata, &m)
	}
	return m
}

// UserQuest records a one-time quest completion. The unique
// (user_id, quest_id) pair is the idempotency guard for grants.
type UserQuest struct {
	bun.BaseModel `bun:"table:user_quests,alias:uq"`

	ID          int64     `bun:"id,pk,autoincrement"`
	UserID      int64     `bun:"user_id,notnull,unique:uq_user_quest"`
	QuestID     int64     `bun:"quest_id,notnull,unique:uq_user_quest"`
	CompletedAt time.Time `bun:"completed_at,notnull"`
	XPAwarded   int64     `bun:"xp_awarded,notnull,default:0"`
}
