package services

import (
	"context"
	"time"

	"github.com/strivelab/habit-flow/habitflow/database/models"
	"github.com/strivelab/habit-flow/habitflow/database/repositories"
)

// TitleService derives a user's progression title from level and
// quest-group completion. It implements xp.TitleSyncer.
type TitleService struct {
	titles repositories.TitleRepository
	quests repositories.QuestRepository
	users  repositories.UserRepository

	now func() time.Time
}

func NewTitleService(titles repositories.TitleRepository, quests repositories.QuestRepository, users repositories.UserRepository) *TitleService {
	return &TitleService{titles: titles, quests: quests, users: users, now: time.Now}
}

// DetermineTitle walks the ordered title list, advancing past a tier
// only when the level exceeds its ceiling and every active quest in
// its group is done. Premium-gated tiers are invisible while premium
// is inactive, which stops the walk earlier.
func (s *TitleService) DetermineTitle(ctx context.Context, user *models.User) (*models.Title, error) {
	all, err := s.titles.GetAllOrdered(ctx)
	if err != nil {
		return nil, err
	}
	premium := user.PremiumActive(s.now())
	titles := all[:0:0]
	for _, t := range all {
		if t.RequiresPremium && !premium {
			continue
		}
		titles = append(titles, t)
	}
	if len(titles) == 0 {
		return nil, nil
	}

	level := user.Level
	if level < 1 {
		level = 1
	}
	current := titles[0]
	for _, next := range titles[1:] {
		if level <= current.LevelMax {
			break
		}
		done, err := s.groupCompleted(ctx, user.ID, current.Code)
		if err != nil {
			return nil, err
		}
		if !done {
			break
		}
		current = next
	}
	return current, nil
}

func (s *TitleService) groupCompleted(ctx context.Context, userID int64, group string) (bool, error) {
	quests, err := s.quests.GetActiveQuestsByGroup(ctx, group)
	if err != nil {
		return false, err
	}
	if len(quests) == 0 {
		return true, nil
	}
	ids := make([]int64, len(quests))
	for i, q := range quests {
		ids[i] = q.ID
	}
	completed, err := s.quests.CountGroupCompletions(ctx, userID, ids)
	if err != nil {
		return false, err
	}
	return completed == len(ids), nil
}

// SyncTitle persists the recomputed title reference, but only when it
// actually changed.
func (s *TitleService) SyncTitle(ctx context.Context, user *models.User) error {
	target, err := s.DetermineTitle(ctx, user)
	if err != nil {
		return err
	}
	var targetID int64
	if target != nil {
		targetID = target.ID
	}
	if user.CurrentTitleID == targetID {
		return nil
	}
	if err := s.users.SetCurrentTitle(ctx, user.ID, targetID); err != nil {
		return err
	}
	user.CurrentTitleID = targetID
	return nil
}

// ResolveTitle returns the user's effective title, re-validating a
// held premium-gated title on every call so a lapsed subscription
// demotes immediately.
func (s *TitleService) ResolveTitle(ctx context.Context, user *models.User) (*models.Title, error) {
	if user.CurrentTitleID != 0 {
		held, err := s.titles.GetByID(ctx, user.CurrentTitleID)
		if err != nil {
			return nil, err
		}
		if held != nil && (!held.RequiresPremium || user.PremiumActive(s.now())) {
			return held, nil
		}
	}
	if err := s.SyncTitle(ctx, user); err != nil {
		return nil, err
	}
	if user.CurrentTitleID == 0 {
		return nil, nil
	}
	return s.titles.GetByID(ctx, user.CurrentTitleID)
}

// StatsDaysLimit is the visible-stats window granted by the resolved
// title's privilege bag.
func (s *TitleService) StatsDaysLimit(ctx context.Context, user *models.User) int {
	title, err := s.ResolveTitle(ctx, user)
	if err != nil || title == nil {
		return 30
	}
	return title.DecodePrivileges().StatsDays
}
