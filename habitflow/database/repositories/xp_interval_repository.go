package repositories

import (
	"context"
	"time"

	"github.com/strivelab/habit-flow/habitflow/database/models"
	"github.com/uptrace/bun"
)

type XpIntervalRepository interface {
	// InsertIgnoreDuplicates bulk-inserts ledger entries, skipping any
	// (user, period_start) pair that already exists, and returns only
	// the rows actually inserted. Crediting from the returned rows is
	// what makes a replayed flush harmless.
	InsertIgnoreDuplicates(ctx context.Context, entries []*models.XpIntervalEntry) ([]*models.XpIntervalEntry, error)

	// MergeEntry adds xp to an existing (user, period_start) entry or
	// creates it. Used by the direct, unbuffered crediting path.
	MergeEntry(ctx context.Context, entry *models.XpIntervalEntry) error

	// PeriodSums returns per-user XP totals for entries whose
	// period_start falls in [from, to).
	PeriodSums(ctx context.Context, from, to time.Time) (map[int64]int64, error)

	UserPeriodSum(ctx context.Context, userID int64, from, to time.Time) (int64, error)
}

type xpIntervalRepository struct {
	db *bun.DB
}

func NewXpIntervalRepository(db *bun.DB) XpIntervalRepository {
	return &xpIntervalRepository{db: db}
}

func (r *xpIntervalRepository) InsertIgnoreDuplicates(ctx context.Context, entries []*models.XpIntervalEntry) ([]*models.XpIntervalEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	var inserted []*models.XpIntervalEntry
	_, err := r.db.NewInsert().
		Model(&entries).
		On("CONFLICT (user_id, period_start) DO NOTHING").
		Returning("user_id, period_start, xp").
		Exec(ctx, &inserted)
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

func (r *xpIntervalRepository) MergeEntry(ctx context.Context, entry *models.XpIntervalEntry) error {
	res, err := r.db.NewUpdate().
		Model((*models.XpIntervalEntry)(nil)).
		Set("xp = xp + ?", entry.XP).
		Set("period_end = ?", entry.PeriodEnd).
		Where("user_id = ?", entry.UserID).
		Where("period_start = ?", entry.PeriodStart).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows > 0 {
		return nil
	}
	_, err = r.db.NewInsert().
		Model(entry).
		On("CONFLICT (user_id, period_start) DO UPDATE").
		Set("xp = xie.xp + EXCLUDED.xp").
		Exec(ctx)
	return err
}

func (r *xpIntervalRepository) PeriodSums(ctx context.Context, from, to time.Time) (map[int64]int64, error) {
	var rows []struct {
		UserID int64 `bun:"user_id"`
		Total  int64 `bun:"total"`
	}
	err := r.db.NewSelect().
		Model((*models.XpIntervalEntry)(nil)).
		ColumnExpr("user_id").
		ColumnExpr("SUM(xp) AS total").
		Where("period_start >= ?", from).
		Where("period_start < ?", to).
		GroupExpr("user_id").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	sums := make(map[int64]int64, len(rows))
	for _, row := range rows {
		sums[row.UserID] = row.Total
	}
	return sums, nil
}

func (r *xpIntervalRepository) UserPeriodSum(ctx context.Context, userID int64, from, to time.Time) (int64, error) {
	var total int64
	err := r.db.NewSelect().
		Model((*models.XpIntervalEntry)(nil)).
		ColumnExpr("COALESCE(SUM(xp), 0)").
		Where("user_id = ?", userID).
		Where("period_start >= ?", from).
		Where("period_start < ?", to).
		Scan(ctx, &total)
	return total, err
}
