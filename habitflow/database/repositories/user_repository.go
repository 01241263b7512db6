package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/strivelab/habit-flow/habitflow/database/models"
	"github.com/uptrace/bun"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	Update(ctx context.Context, user *models.User) error

	// AddXP atomically increments the durable lifetime total.
	AddXP(ctx context.Context, userID int64, delta int64) error
	SetLevel(ctx context.Context, userID int64, level int) error
	SetCurrentTitle(ctx context.Context, userID int64, titleID int64) error
	ConsumeStreakShields(ctx context.Context, userID int64, used int) error

	GetRankingParticipants(ctx context.Context) ([]*models.User, error)
	CountHigherRanked(ctx context.Context, xp int64, userID int64) (int, error)
}

type userRepository struct {
	db *bun.DB
}

func NewUserRepository(db *bun.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	_, err := r.db.NewInsert().Model(user).Exec(ctx)
	return err
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %d", id)
		}
		return nil, err
	}
	return user, nil
}

func (r *userRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("telegram_id = ?", telegramID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found: telegram %d", telegramID)
		}
		return nil, err
	}
	return user, nil
}

func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	_, err := r.db.NewUpdate().
		Model(user).
		WherePK().
		Exec(ctx)
	return err
}

func (r *userRepository) AddXP(ctx context.Context, userID int64, delta int64) error {
	if delta == 0 {
		return nil
	}
	_, err := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("xp = xp + ?", delta).
		Where("id = ?", userID).
		Exec(ctx)
	return err
}

func (r *userRepository) SetLevel(ctx context.Context, userID int64, level int) error {
	_, err := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("level = ?", level).
		Where("id = ?", userID).
		Exec(ctx)
	return err
}

func (r *userRepository) SetCurrentTitle(ctx context.Context, userID int64, titleID int64) error {
	q := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Where("id = ?", userID)
	if titleID == 0 {
		q = q.Set("current_title_id = NULL")
	} else {
		q = q.Set("current_title_id = ?", titleID)
	}
	_, err := q.Exec(ctx)
	return err
}

func (r *userRepository) ConsumeStreakShields(ctx context.Context, userID int64, used int) error {
	if used <= 0 {
		return nil
	}
	_, err := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("streak_shields = GREATEST(streak_shields - ?, 0)", used).
		Where("id = ?", userID).
		Exec(ctx)
	return err
}

func (r *userRepository) GetRankingParticipants(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	err := r.db.NewSelect().
		Model(&users).
		Where("participation_in_ratings = TRUE").
		Where("is_active = TRUE").
		Order("xp DESC", "id ASC").
		Scan(ctx)
	return users, err
}

// CountHigherRanked returns how many participants outrank the given
// lifetime XP under the all-time tie-break (xp desc, id asc).
func (r *userRepository) CountHigherRanked(ctx context.Context, xp int64, userID int64) (int, error) {
	return r.db.NewSelect().
		Model((*models.User)(nil)).
		Where("participation_in_ratings = TRUE").
		Where("is_active = TRUE").
		Where("(xp > ?) OR (xp = ? AND id < ?)", xp, xp, userID).
		Count(ctx)
}
