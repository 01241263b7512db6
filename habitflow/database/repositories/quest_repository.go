package repositories

import (
	"context"

	"github.com/strivelab/habit-flow/habitflow/database/models"
	"github.com/uptrace/bun"
)

type QuestRepository interface {
	GetActiveQuests(ctx context.Context) ([]*models.Quest, error)
	GetActiveQuestsByGroup(ctx context.Context, group string) ([]*models.Quest, error)

	GetUserCompletions(ctx context.Context, userID int64) (map[int64]*models.UserQuest, error)
	CountGroupCompletions(ctx context.Context, userID int64, questIDs []int64) (int, error)

	// CreateCompletion inserts a (user, quest) completion, reporting
	// whether this call actually won the insert. A duplicate insert is
	// not an error, it just reports false.
	CreateCompletion(ctx context.Context, completion *models.UserQuest) (bool, error)
}

type questRepository struct {
	db *bun.DB
}

func NewQuestRepository(db *bun.DB) QuestRepository {
	return &questRepository{db: db}
}

func (r *questRepository) GetActiveQuests(ctx context.Context) ([]*models.Quest, error) {
	var quests []*models.Quest
	err := r.db.NewSelect().
		Model(&quests).
		Where("is_active = TRUE").
		Order("grp ASC", "ord ASC", "id ASC").
		Scan(ctx)
	return quests, err
}

func (r *questRepository) GetActiveQuestsByGroup(ctx context.Context, group string) ([]*models.Quest, error) {
	var quests []*models.Quest
	err := r.db.NewSelect().
		Model(&quests).
		Where("is_active = TRUE").
		Where("grp = ?", group).
		Order("ord ASC", "id ASC").
		Scan(ctx)
	return quests, err
}

func (r *questRepository) GetUserCompletions(ctx context.Context, userID int64) (map[int64]*models.UserQuest, error) {
	var completions []*models.UserQuest
	err := r.db.NewSelect().
		Model(&completions).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	byQuest := make(map[int64]*models.UserQuest, len(completions))
	for _, uq := range completions {
		byQuest[uq.QuestID] = uq
	}
	return byQuest, nil
}

func (r *questRepository) CountGroupCompletions(ctx context.Context, userID int64, questIDs []int64) (int, error) {
	if len(questIDs) == 0 {
		return 0, nil
	}
	return r.db.NewSelect().
		Model((*models.UserQuest)(nil)).
		Where("user_id = ?", userID).
		Where("quest_id IN (?)", bun.In(questIDs)).
		Count(ctx)
}

func (r *questRepository) CreateCompletion(ctx context.Context, completion *models.UserQuest) (bool, error) {
	res, err := r.db.NewInsert().
		Model(completion).
		On("CONFLICT (user_id, quest_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
