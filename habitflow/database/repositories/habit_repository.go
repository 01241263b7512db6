package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/strivelab/habit-flow/habitflow/database/models"
	"github.com/uptrace/bun"
)

type HabitRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Habit, error)
	GetByOwner(ctx context.Context, ownerID int64) ([]*models.Habit, error)
	CountByOwner(ctx context.Context, ownerID int64) (int, error)
	CountPublicByOwner(ctx context.Context, ownerID int64) (int, error)
	GetPublicByOwner(ctx context.Context, ownerID int64) ([]*models.Habit, error)
	CountPublicWithMinCopies(ctx context.Context, ownerID int64, minCopies int) (int, error)

	// CountMenteesWithStreak counts distinct users owning a copy of one
	// of this user's habits whose copied habit has a cached streak of at
	// least minStreak.
	CountMenteesWithStreak(ctx context.Context, mentorID int64, minStreak int) (int, error)

	GetCompletions(ctx context.Context, habitID int64, from, to time.Time) ([]*models.HabitCompletion, error)
	GetCompletion(ctx context.Context, habitID int64, date time.Time) (*models.HabitCompletion, error)
	GetCompletionsForOwner(ctx context.Context, ownerID int64, date time.Time) (map[int64]int, error)
	CountGoalReached(ctx context.Context, ownerID int64, date time.Time) (int, error)
	CompletedDates(ctx context.Context, ownerID int64, from, to time.Time) (map[time.Time]bool, error)
	UpsertCompletion(ctx context.Context, completion *models.HabitCompletion) error

	HasCopies(ctx context.Context, userID int64) (bool, error)
	HasShares(ctx context.Context, userID int64) (bool, error)

	// UpdateRollup persists cached streak fields and the shield debit in
	// one transaction, locking the habit and owner rows to keep
	// concurrent rollups of the same habit from losing updates.
	UpdateRollup(ctx context.Context, habit *models.Habit, shieldsUsed int) error
}

type habitRepository struct {
	db *bun.DB
}

func NewHabitRepository(db *bun.DB) HabitRepository {
	return &habitRepository{db: db}
}

func (r *habitRepository) GetByID(ctx context.Context, id int64) (*models.Habit, error) {
	habit := new(models.Habit)
	err := r.db.NewSelect().
		Model(habit).
		Where("h.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("habit not found: %d", id)
		}
		return nil, err
	}
	return habit, nil
}

func (r *habitRepository) GetByOwner(ctx context.Context, ownerID int64) ([]*models.Habit, error) {
	var habits []*models.Habit
	err := r.db.NewSelect().
		Model(&habits).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Scan(ctx)
	return habits, err
}

func (r *habitRepository) CountByOwner(ctx context.Context, ownerID int64) (int, error) {
	return r.db.NewSelect().
		Model((*models.Habit)(nil)).
		Where("owner_id = ?", ownerID).
		Count(ctx)
}

func (r *habitRepository) CountPublicByOwner(ctx context.Context, ownerID int64) (int, error) {
	return r.db.NewSelect().
		Model((*models.Habit)(nil)).
		Where("owner_id = ?", ownerID).
		Where("visibility = ?", models.VisibilityPublic).
		Count(ctx)
}

func (r *habitRepository) GetPublicByOwner(ctx context.Context, ownerID int64) ([]*models.Habit, error) {
	var habits []*models.Habit
	err := r.db.NewSelect().
		Model(&habits).
		Where("owner_id = ?", ownerID).
		Where("visibility = ?", models.VisibilityPublic).
		Order("copied_count DESC").
		Scan(ctx)
	return habits, err
}

func (r *habitRepository) CountPublicWithMinCopies(ctx context.Context, ownerID int64, minCopies int) (int, error) {
	return r.db.NewSelect().
		Model((*models.Habit)(nil)).
		Where("owner_id = ?", ownerID).
		Where("visibility = ?", models.VisibilityPublic).
		Where("copied_count >= ?", minCopies).
		Count(ctx)
}

func (r *habitRepository) CountMenteesWithStreak(ctx context.Context, mentorID int64, minStreak int) (int, error) {
	var count int
	err := r.db.NewSelect().
		ColumnExpr("COUNT(DISTINCT h.owner_id)").
		Model((*models.Habit)(nil)).
		Join("JOIN habits src ON src.id = h.source_habit_id").
		Where("src.owner_id = ?", mentorID).
		Where("h.streak_current >= ?", minStreak).
		Scan(ctx, &count)
	return count, err
}

func (r *habitRepository) GetCompletions(ctx context.Context, habitID int64, from, to time.Time) ([]*models.HabitCompletion, error) {
	var completions []*models.HabitCompletion
	err := r.db.NewSelect().
		Model(&completions).
		Where("habit_id = ?", habitID).
		Where("date >= ?", from).
		Where("date <= ?", to).
		Order("date ASC").
		Scan(ctx)
	return completions, err
}

func (r *habitRepository) GetCompletion(ctx context.Context, habitID int64, date time.Time) (*models.HabitCompletion, error) {
	completion := new(models.HabitCompletion)
	err := r.db.NewSelect().
		Model(completion).
		Where("habit_id = ?", habitID).
		Where("date = ?", date).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return completion, nil
}

func (r *habitRepository) GetCompletionsForOwner(ctx context.Context, ownerID int64, date time.Time) (map[int64]int, error) {
	var completions []*models.HabitCompletion
	err := r.db.NewSelect().
		Model(&completions).
		Join("JOIN habits h ON h.id = hc.habit_id").
		Where("h.owner_id = ?", ownerID).
		Where("hc.date = ?", date).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[int64]int, len(completions))
	for _, c := range completions {
		counts[c.HabitID] = c.Count
	}
	return counts, nil
}

// CountGoalReached counts the owner's habits completed to goal on a
// date, which drives the daily cap step function.
func (r *habitRepository) CountGoalReached(ctx context.Context, ownerID int64, date time.Time) (int, error) {
	return r.db.NewSelect().
		Model((*models.HabitCompletion)(nil)).
		Join("JOIN habits h ON h.id = hc.habit_id").
		Where("h.owner_id = ?", ownerID).
		Where("hc.date = ?", date).
		Where("hc.count >= GREATEST(h.goal, 1)").
		Count(ctx)
}

// CompletedDates returns the dates in [from, to] on which the owner
// completed at least one habit to its goal.
func (r *habitRepository) CompletedDates(ctx context.Context, ownerID int64, from, to time.Time) (map[time.Time]bool, error) {
	var dates []time.Time
	err := r.db.NewSelect().
		ColumnExpr("DISTINCT hc.date").
		Model((*models.HabitCompletion)(nil)).
		Join("JOIN habits h ON h.id = hc.habit_id").
		Where("h.owner_id = ?", ownerID).
		Where("hc.date >= ?", from).
		Where("hc.date <= ?", to).
		Where("hc.count >= GREATEST(h.goal, 1)").
		Scan(ctx, &dates)
	if err != nil {
		return nil, err
	}
	set := make(map[time.Time]bool, len(dates))
	for _, d := range dates {
		set[d.UTC().Truncate(24*time.Hour)] = true
	}
	return set, nil
}

func (r *habitRepository) UpsertCompletion(ctx context.Context, completion *models.HabitCompletion) error {
	_, err := r.db.NewInsert().
		Model(completion).
		On("CONFLICT (habit_id, date) DO UPDATE").
		Set("count = EXCLUDED.count").
		Exec(ctx)
	return err
}

func (r *habitRepository) HasCopies(ctx context.Context, userID int64) (bool, error) {
	return r.db.NewSelect().
		Model((*models.HabitCopy)(nil)).
		Where("user_id = ?", userID).
		Exists(ctx)
}

func (r *habitRepository) HasShares(ctx context.Context, userID int64) (bool, error) {
	return r.db.NewSelect().
		Model((*models.HabitShare)(nil)).
		Where("user_id = ?", userID).
		Exists(ctx)
}

func (r *habitRepository) UpdateRollup(ctx context.Context, habit *models.Habit, shieldsUsed int) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var locked models.Habit
		if err := tx.NewSelect().
			Model(&locked).
			Where("h.id = ?", habit.ID).
			For("UPDATE").
			Scan(ctx); err != nil {
			return err
		}

		q := tx.NewUpdate().
			Model(habit).
			Column("completed_total", "streak_current", "streak_best", "stats_rollup_date").
			WherePK()
		if habit.StreakLastDate.IsZero() {
			q = q.Set("streak_last_date = NULL")
		} else {
			q = q.Set("streak_last_date = ?", habit.StreakLastDate)
		}
		if _, err := q.Exec(ctx); err != nil {
			return err
		}

		if shieldsUsed > 0 {
			var owner models.User
			if err := tx.NewSelect().
				Model(&owner).
				Where("u.id = ?", habit.OwnerID).
				For("UPDATE").
				Scan(ctx); err != nil {
				return err
			}
			if _, err := tx.NewUpdate().
				Model((*models.User)(nil)).
				Set("streak_shields = GREATEST(streak_shields - ?, 0)", shieldsUsed).
				Where("id = ?", habit.OwnerID).
				Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}
