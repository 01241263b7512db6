package services

import (
	"context"
	"testing"
	"time"

	"github.com/strivelab/habit-flow/habitflow/database/models"
	"github.com/strivelab/habit-flow/habitflow/database/repositories"
	"github.com/strivelab/habit-flow/habitflow/xp"
)

// completionFakeHabits is a single-habit in-memory store exercising
// the whole record -> award -> rollup pipeline.
type completionFakeHabits struct {
	repositories.HabitRepository

	habit       *models.Habit
	completions map[time.Time]int
}

func (f *completionFakeHabits) GetByID(context.Context, int64) (*models.Habit, error) {
	return f.habit, nil
}

func (f *completionFakeHabits) GetByOwner(context.Context, int64) ([]*models.Habit, error) {
	return []*models.Habit{f.habit}, nil
}

func (f *completionFakeHabits) CountByOwner(context.Context, int64) (int, error) {
	return 1, nil
}

func (f *completionFakeHabits) GetPublicByOwner(context.Context, int64) ([]*models.Habit, error) {
	return nil, nil
}

func (f *completionFakeHabits) HasCopies(context.Context, int64) (bool, error) {
	return false, nil
}

func (f *completionFakeHabits) HasShares(context.Context, int64) (bool, error) {
	return false, nil
}

func (f *completionFakeHabits) GetCompletion(_ context.Context, _ int64, date time.Time) (*models.HabitCompletion, error) {
	count, ok := f.completions[date]
	if !ok {
		return nil, nil
	}
	return &models.HabitCompletion{HabitID: f.habit.ID, Date: date, Count: count}, nil
}

func (f *completionFakeHabits) GetCompletions(_ context.Context, _ int64, from, to time.Time) ([]*models.HabitCompletion, error) {
	var out []*models.HabitCompletion
	for date, count := range f.completions {
		if !from.IsZero() && date.Before(from) {
			continue
		}
		if date.After(to) {
			continue
		}
		out = append(out, &models.HabitCompletion{HabitID: f.habit.ID, Date: date, Count: count})
	}
	return out, nil
}

func (f *completionFakeHabits) GetCompletionsForOwner(_ context.Context, _ int64, date time.Time) (map[int64]int, error) {
	if count, ok := f.completions[date]; ok {
		return map[int64]int{f.habit.ID: count}, nil
	}
	return map[int64]int{}, nil
}

func (f *completionFakeHabits) CountGoalReached(_ context.Context, _ int64, date time.Time) (int, error) {
	if f.completions[date] >= f.habit.GoalOrOne() {
		return 1, nil
	}
	return 0, nil
}

func (f *completionFakeHabits) CompletedDates(_ context.Context, _ int64, from, to time.Time) (map[time.Time]bool, error) {
	set := make(map[time.Time]bool)
	for date, count := range f.completions {
		if count >= f.habit.GoalOrOne() && !date.Before(from) && !date.After(to) {
			set[date] = true
		}
	}
	return set, nil
}

func (f *completionFakeHabits) UpsertCompletion(_ context.Context, c *models.HabitCompletion) error {
	if f.completions == nil {
		f.completions = make(map[time.Time]int)
	}
	f.completions[c.Date] = c.Count
	return nil
}

func (f *completionFakeHabits) UpdateRollup(context.Context, *models.Habit, int) error {
	return nil
}

func newCompletionService(habits *completionFakeHabits, users *grantFakeUsers, quests *questFakeQuests) *CompletionService {
	streaks := NewStreakService(habits, users)
	buffer := xp.NewPendingBuffer(nil)
	flusher := xp.NewFlusher(nil, buffer, users, &grantFakeIntervals{}, nil)
	awarder := xp.NewAwarder(xp.NewCounter(nil), buffer, flusher, streaks)
	questSvc := NewQuestService(quests, habits, &grantFakeIntervals{}, buffer, awarder)
	return NewCompletionService(habits, users, streaks, awarder, questSvc)
}

func TestRecordCompletionAwardsOnGoalCross(t *testing.T) {
	habits := &completionFakeHabits{habit: &models.Habit{ID: 1, OwnerID: 1, Goal: 3}}
	users := &grantFakeUsers{user: &models.User{ID: 1, Level: 1}}
	svc := newCompletionService(habits, users, &questFakeQuests{})
	ctx := context.Background()
	today := DateOnly(time.Now())

	result, err := svc.RecordCompletion(ctx, 1, today, 2)
	if err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
	if result.Count != 2 || result.XPAwarded != 0 {
		t.Fatalf("below goal: count=%d awarded=%d, want 2 and 0", result.Count, result.XPAwarded)
	}

	result, err = svc.RecordCompletion(ctx, 1, today, 1)
	if err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
	if result.Count != 3 {
		t.Errorf("count = %d, want goal 3", result.Count)
	}
	if result.XPAwarded != xp.BaseCompletionXP {
		t.Errorf("awarded = %d, want base %d", result.XPAwarded, xp.BaseCompletionXP)
	}
	if users.user.XP != xp.BaseCompletionXP {
		t.Errorf("durable total = %d, want %d", users.user.XP, xp.BaseCompletionXP)
	}

	// Past the goal nothing changes and nothing is awarded again.
	result, err = svc.RecordCompletion(ctx, 1, today, 5)
	if err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
	if result.Count != 3 || result.XPAwarded != 0 {
		t.Errorf("past goal: count=%d awarded=%d, want 3 and 0", result.Count, result.XPAwarded)
	}
	if users.user.XP != xp.BaseCompletionXP {
		t.Errorf("durable total moved to %d on a repeat", users.user.XP)
	}
}

func TestRecordCompletionEvaluatesQuestsBelowGoal(t *testing.T) {
	habits := &completionFakeHabits{habit: &models.Habit{ID: 1, OwnerID: 1, Goal: 3}}
	users := &grantFakeUsers{user: &models.User{ID: 1, Level: 1}}
	quests := &questFakeQuests{
		active: []*models.Quest{{ID: 101, Type: models.QuestCreateHabit, Target: 1, XP: 50}},
	}
	svc := newCompletionService(habits, users, quests)

	// One tick toward a goal of three: no completion XP, but quests
	// satisfied by other state still land on this increment.
	result, err := svc.RecordCompletion(context.Background(), 1, DateOnly(time.Now()), 1)
	if err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
	if result.Count != 1 || result.XPAwarded != 0 {
		t.Fatalf("count=%d awarded=%d, want 1 and 0", result.Count, result.XPAwarded)
	}
	if len(quests.completed) != 1 {
		t.Errorf("quest completions = %d, want 1", len(quests.completed))
	}
	if users.user.XP != 50 {
		t.Errorf("durable total = %d, want the 50 quest grant", users.user.XP)
	}
}

func TestRecordCompletionValidation(t *testing.T) {
	habits := &completionFakeHabits{habit: &models.Habit{ID: 1, OwnerID: 1, Goal: 1}}
	users := &grantFakeUsers{user: &models.User{ID: 1, Level: 1}}
	svc := newCompletionService(habits, users, &questFakeQuests{})
	ctx := context.Background()

	if _, err := svc.RecordCompletion(ctx, 1, time.Now(), 0); err == nil {
		t.Error("zero increment accepted")
	}
	if _, err := svc.RecordCompletion(ctx, 1, time.Now().AddDate(0, 0, 2), 1); err == nil {
		t.Error("future date accepted")
	}
}

func TestRecordCompletionBackdatedRebuildsStreak(t *testing.T) {
	today := DateOnly(time.Now())
	yesterday := today.AddDate(0, 0, -1)
	threeDaysAgo := today.AddDate(0, 0, -3)

	habits := &completionFakeHabits{
		habit: &models.Habit{
			ID:              1,
			OwnerID:         1,
			Goal:            1,
			StreakCurrent:   1,
			StreakBest:      1,
			CompletedTotal:  1,
			StreakLastDate:  yesterday,
			StatsRollupDate: yesterday,
		},
		completions: map[time.Time]int{yesterday: 1},
	}
	users := &grantFakeUsers{user: &models.User{ID: 1, Level: 1}}
	svc := newCompletionService(habits, users, &questFakeQuests{})

	result, err := svc.RecordCompletion(context.Background(), 1, threeDaysAgo, 1)
	if err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
	if result.XPAwarded == 0 {
		t.Error("backdated goal cross awarded nothing")
	}

	habit := habits.habit
	if !habit.StatsRollupDate.Equal(yesterday) {
		t.Errorf("StatsRollupDate = %v, want rebuilt through %v", habit.StatsRollupDate, yesterday)
	}
	if habit.CompletedTotal != 2 {
		t.Errorf("CompletedTotal = %d, want 2 after rebuild", habit.CompletedTotal)
	}
	if habit.StreakCurrent != 1 {
		t.Errorf("StreakCurrent = %d, want 1", habit.StreakCurrent)
	}
	if !habit.StreakLastDate.Equal(yesterday) {
		t.Errorf("StreakLastDate = %v, want %v", habit.StreakLastDate, yesterday)
	}
}
