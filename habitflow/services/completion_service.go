package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/strivelab/habit-flow/habitflow/database/models"
	"github.com/strivelab/habit-flow/habitflow/database/repositories"
	"github.com/strivelab/habit-flow/habitflow/xp"
)

// CompletionService is the collaborator entry point: it records a
// habit completion and drives the XP and quest pipeline when the
// daily goal is crossed for the first time.
type CompletionService struct {
	habits  repositories.HabitRepository
	users   repositories.UserRepository
	streaks *StreakService
	awarder *xp.Awarder
	quests  *QuestService

	now func() time.Time
}

func NewCompletionService(habits repositories.HabitRepository, users repositories.UserRepository, streaks *StreakService, awarder *xp.Awarder, quests *QuestService) *CompletionService {
	return &CompletionService{
		habits:  habits,
		users:   users,
		streaks: streaks,
		awarder: awarder,
		quests:  quests,
		now:     time.Now,
	}
}

type CompletionResult struct {
	Count     int
	XPAwarded int64
}

// RecordCompletion clamps the day's count into [0, goal] and, when
// this call is the one that reaches the goal, awards base XP through
// the capped pipeline. Quests are re-evaluated after every recorded
// increment, not just goal crossings, so predicates satisfied outside
// this habit (habit counts, social flags) surface promptly. Repeat
// calls past the goal change nothing and award nothing.
func (s *CompletionService) RecordCompletion(ctx context.Context, habitID int64, date time.Time, increment int) (*CompletionResult, error) {
	if increment < 1 {
		return nil, fmt.Errorf("increment must be >= 1")
	}
	date = DateOnly(date)
	today := DateOnly(s.now())
	if date.After(today) {
		return nil, fmt.Errorf("cannot complete a habit for a future date")
	}

	habit, err := s.habits.GetByID(ctx, habitID)
	if err != nil {
		return nil, err
	}
	goal := habit.GoalOrOne()

	prev := 0
	if existing, err := s.habits.GetCompletion(ctx, habit.ID, date); err != nil {
		return nil, err
	} else if existing != nil {
		prev = existing.Count
	}
	newCount := prev + increment
	if newCount > goal {
		newCount = goal
	}
	if err := s.habits.UpsertCompletion(ctx, &models.HabitCompletion{
		HabitID: habit.ID,
		Date:    date,
		Count:   newCount,
	}); err != nil {
		return nil, err
	}

	result := &CompletionResult{Count: newCount}
	crossedGoal := prev < goal && newCount >= goal

	user, err := s.users.GetByID(ctx, habit.OwnerID)
	if err != nil {
		return nil, err
	}

	if crossedGoal {
		activeHabits, err := s.habits.CountGoalReached(ctx, user.ID, date)
		if err != nil {
			return nil, err
		}
		awarded, err := s.awarder.AwardXP(ctx, user, xp.BaseCompletionXP, date, activeHabits)
		if err != nil {
			return nil, err
		}
		result.XPAwarded = awarded
	}

	if _, err := s.quests.Evaluate(ctx, user); err != nil {
		slog.Warn("Quest evaluation failed after completion",
			slog.Int64("user_id", user.ID),
			slog.Any("error", err))
	}

	// Backdated completions at or before the rollup cursor invalidate
	// the cached streak fields; force a rebuild from history.
	if newCount != prev && date.Before(today) && !habit.StatsRollupDate.IsZero() && !date.After(DateOnly(habit.StatsRollupDate)) {
		habit.StatsRollupDate = time.Time{}
		habit.StreakLastDate = time.Time{}
		habit.CompletedTotal = 0
		habit.StreakCurrent = 0
		habit.StreakBest = 0
		if err := s.streaks.RollupHabit(ctx, habit, today); err != nil {
			slog.Warn("Streak rebuild failed after backdated completion",
				slog.Int64("habit_id", habit.ID),
				slog.Any("error", err))
		}
	}
	return result, nil
}
