package services

import (
	"context"
	"time"

	"github.com/strivelab/habit-flow/habitflow/database/models"
	"github.com/strivelab/habit-flow/habitflow/database/repositories"
)

// historyScanDays bounds the direct completion-row scan used for
// historical streak queries.
const historyScanDays = 60

// StreakService maintains the cached per-habit streak fields. Cached
// values are valid only through the rollup cursor (always yesterday
// or earlier); today's streak is derived live from completion rows on
// every read.
type StreakService struct {
	habits repositories.HabitRepository
	users  repositories.UserRepository

	now func() time.Time
}

func NewStreakService(habits repositories.HabitRepository, users repositories.UserRepository) *StreakService {
	return &StreakService{habits: habits, users: users, now: time.Now}
}

// DateOnly normalizes a timestamp to its UTC calendar day.
func DateOnly(t time.Time) time.Time {
	utc := t.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}

type rollupState struct {
	total   int
	current int
	best    int
	last    time.Time // zero when no day has counted yet
}

// advance walks the day range [start, end] applying completion counts
// to the streak state. Shields bridge a missed day only when it
// immediately follows the last counted day; a bridged day counts
// toward the streak like a completed one. The returned usage is
// deducted from the owner once, by the caller.
func (st *rollupState) advance(counts map[time.Time]int, start, end time.Time, goal, shieldBudget int) (used int) {
	if goal < 1 {
		goal = 1
	}
	for cursor := start; !cursor.After(end); cursor = cursor.AddDate(0, 0, 1) {
		count := counts[cursor]
		st.total += count
		if count >= goal {
			if !st.last.IsZero() && cursor.Equal(st.last.AddDate(0, 0, 1)) {
				st.current++
			} else {
				st.current = 1
			}
			st.last = cursor
			if st.current > st.best {
				st.best = st.current
			}
			continue
		}
		if st.current > 0 && !st.last.IsZero() && cursor.Equal(st.last.AddDate(0, 0, 1)) && shieldBudget-used > 0 {
			used++
			st.current++
			st.last = cursor
			if st.current > st.best {
				st.best = st.current
			}
			continue
		}
		st.current = 0
	}
	return used
}

// RollupHabit advances the habit's cached streak fields through
// yesterday. Re-running for the same day is a no-op: the cursor only
// moves forward and shields are consumed once per covered day range.
func (s *StreakService) RollupHabit(ctx context.Context, habit *models.Habit, today time.Time) error {
	owner, err := s.users.GetByID(ctx, habit.OwnerID)
	if err != nil {
		return err
	}
	return s.rollup(ctx, habit, owner, DateOnly(today))
}

func (s *StreakService) rollup(ctx context.Context, habit *models.Habit, owner *models.User, today time.Time) error {
	yesterday := today.AddDate(0, 0, -1)

	var st rollupState
	var start time.Time
	if habit.StatsRollupDate.IsZero() {
		// No cursor yet: rebuild from the full history.
		completions, err := s.habits.GetCompletions(ctx, habit.ID, time.Time{}, yesterday)
		if err != nil {
			return err
		}
		counts := completionCounts(completions)
		if len(counts) > 0 {
			for d := range counts {
				if start.IsZero() || d.Before(start) {
					start = d
				}
			}
		}
		if !start.IsZero() {
			used := st.advance(counts, start, yesterday, habit.GoalOrOne(), owner.StreakShields)
			return s.persistRollup(ctx, habit, st, yesterday, used)
		}
		return s.persistRollup(ctx, habit, st, yesterday, 0)
	}

	start = DateOnly(habit.StatsRollupDate).AddDate(0, 0, 1)
	if start.After(yesterday) {
		return nil
	}
	completions, err := s.habits.GetCompletions(ctx, habit.ID, start, yesterday)
	if err != nil {
		return err
	}
	st = rollupState{
		total:   habit.CompletedTotal,
		current: habit.StreakCurrent,
		best:    habit.StreakBest,
	}
	if !habit.StreakLastDate.IsZero() {
		st.last = DateOnly(habit.StreakLastDate)
	}
	used := st.advance(completionCounts(completions), start, yesterday, habit.GoalOrOne(), owner.StreakShields)
	return s.persistRollup(ctx, habit, st, yesterday, used)
}

func (s *StreakService) persistRollup(ctx context.Context, habit *models.Habit, st rollupState, cursor time.Time, shieldsUsed int) error {
	habit.CompletedTotal = st.total
	habit.StreakCurrent = st.current
	habit.StreakBest = st.best
	habit.StreakLastDate = st.last
	habit.StatsRollupDate = cursor
	return s.habits.UpdateRollup(ctx, habit, shieldsUsed)
}

// RollupUserHabits advances every habit the user owns.
func (s *StreakService) RollupUserHabits(ctx context.Context, user *models.User, today time.Time) error {
	habits, err := s.habits.GetByOwner(ctx, user.ID)
	if err != nil {
		return err
	}
	today = DateOnly(today)
	for _, habit := range habits {
		if err := s.rollup(ctx, habit, user, today); err != nil {
			return err
		}
	}
	return nil
}

// liveStreak combines the cached cursor state with today's own
// completion status. The cache never covers today, so this is the
// only valid way to read today's streak.
func liveStreak(habit *models.Habit, date time.Time, completedToday bool) int {
	last := time.Time{}
	if !habit.StreakLastDate.IsZero() {
		last = DateOnly(habit.StreakLastDate)
	}
	cached := habit.StreakCurrent
	if !completedToday {
		if last.Equal(date) {
			return cached
		}
		return 0
	}
	if last.Equal(date) {
		return cached
	}
	if last.Equal(date.AddDate(0, 0, -1)) {
		return cached + 1
	}
	return 1
}

// HabitStreak returns the habit's streak as of date. Today uses the
// cached fields plus live completion status; past dates fall back to
// a bounded completion-row scan.
func (s *StreakService) HabitStreak(ctx context.Context, habit *models.Habit, date time.Time) (int, error) {
	date = DateOnly(date)
	today := DateOnly(s.now())
	if !date.Equal(today) {
		return s.scanHabitStreak(ctx, habit, date)
	}

	if err := s.RollupHabit(ctx, habit, today); err != nil {
		return 0, err
	}
	completion, err := s.habits.GetCompletion(ctx, habit.ID, date)
	if err != nil {
		return 0, err
	}
	completedToday := completion != nil && completion.Count >= habit.GoalOrOne()
	return liveStreak(habit, date, completedToday), nil
}

// UserStreak is the max streak across the user's habits for a date.
// It feeds the award multiplier and streak quests.
func (s *StreakService) UserStreak(ctx context.Context, user *models.User, date time.Time) (int, error) {
	date = DateOnly(date)
	today := DateOnly(s.now())
	if !date.Equal(today) {
		return s.scanUserStreak(ctx, user.ID, date)
	}

	if err := s.RollupUserHabits(ctx, user, today); err != nil {
		return 0, err
	}
	habits, err := s.habits.GetByOwner(ctx, user.ID)
	if err != nil {
		return 0, err
	}
	if len(habits) == 0 {
		return 0, nil
	}
	counts, err := s.habits.GetCompletionsForOwner(ctx, user.ID, date)
	if err != nil {
		return 0, err
	}
	maxStreak := 0
	for _, habit := range habits {
		completedToday := counts[habit.ID] >= habit.GoalOrOne()
		if streak := liveStreak(habit, date, completedToday); streak > maxStreak {
			maxStreak = streak
		}
	}
	return maxStreak, nil
}

func (s *StreakService) scanHabitStreak(ctx context.Context, habit *models.Habit, date time.Time) (int, error) {
	completions, err := s.habits.GetCompletions(ctx, habit.ID, date.AddDate(0, 0, -historyScanDays), date)
	if err != nil {
		return 0, err
	}
	goal := habit.GoalOrOne()
	completed := make(map[time.Time]bool, len(completions))
	for _, c := range completions {
		if c.Count >= goal {
			completed[DateOnly(c.Date)] = true
		}
	}
	return countBack(completed, date), nil
}

func (s *StreakService) scanUserStreak(ctx context.Context, userID int64, date time.Time) (int, error) {
	completed, err := s.habits.CompletedDates(ctx, userID, date.AddDate(0, 0, -historyScanDays), date)
	if err != nil {
		return 0, err
	}
	return countBack(completed, date), nil
}

func countBack(completed map[time.Time]bool, date time.Time) int {
	streak := 0
	for cursor := date; completed[cursor]; cursor = cursor.AddDate(0, 0, -1) {
		streak++
	}
	return streak
}

func completionCounts(completions []*models.HabitCompletion) map[time.Time]int {
	counts := make(map[time.Time]int, len(completions))
	for _, c := range completions {
		counts[DateOnly(c.Date)] = c.Count
	}
	return counts
}
