package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/strivelab/habit-flow/habitflow/database/models"
	"github.com/uptrace/bun"
)

type TitleRepository interface {
	GetAllOrdered(ctx context.Context) ([]*models.Title, error)
	GetByID(ctx context.Context, id int64) (*models.Title, error)
}

type titleRepository struct {
	db *bun.DB
}

func NewTitleRepository(db *bun.DB) TitleRepository {
	return &titleRepository{db: db}
}

func (r *titleRepository) GetAllOrdered(ctx context.Context) ([]*models.Title, error) {
	var titles []*models.Title
	err := r.db.NewSelect().
		Model(&titles).
		Order("ord ASC", "id ASC").
		Scan(ctx)
	return titles, err
}

func (r *titleRepository) GetByID(ctx context.Context, id int64) (*models.Title, error) {
	title := new(models.Title)
	err := r.db.NewSelect().
		Model(title).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return title, nil
}
