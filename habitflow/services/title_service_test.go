package services

import (
	"context"
	"testing"
	"time"

	"github.com/strivelab/habit-flow/habitflow/database/models"
	"github.com/strivelab/habit-flow/habitflow/database/repositories"
)

type titleFakeTitles struct {
	titles []*models.Title
}

func (f *titleFakeTitles) GetAllOrdered(context.Context) ([]*models.Title, error) {
	return f.titles, nil
}

func (f *titleFakeTitles) GetByID(_ context.Context, id int64) (*models.Title, error) {
	for _, t := range f.titles {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, nil
}

type titleFakeQuests struct {
	repositories.QuestRepository

	byGroup   map[string][]*models.Quest
	completed map[int64]bool
}

func (f *titleFakeQuests) GetActiveQuestsByGroup(_ context.Context, group string) ([]*models.Quest, error) {
	return f.byGroup[group], nil
}

func (f *titleFakeQuests) CountGroupCompletions(_ context.Context, _ int64, questIDs []int64) (int, error) {
	count := 0
	for _, id := range questIDs {
		if f.completed[id] {
			count++
		}
	}
	return count, nil
}

type titleFakeUsers struct {
	repositories.UserRepository

	setTitleCalls int
	lastTitleID   int64
}

func (f *titleFakeUsers) SetCurrentTitle(_ context.Context, _ int64, titleID int64) error {
	f.setTitleCalls++
	f.lastTitleID = titleID
	return nil
}

func progressionTitles() []*models.Title {
	return []*models.Title{
		{ID: 1, Code: "novice", Name: "Novice", LevelMin: 1, LevelMax: 4, Order: 0},
		{ID: 2, Code: "adept", Name: "Adept", LevelMin: 5, LevelMax: 9, Order: 1},
		{ID: 3, Code: "master", Name: "Master", LevelMin: 10, LevelMax: 99, Order: 2, RequiresPremium: true},
	}
}

func TestDetermineTitle(t *testing.T) {
	noviceQuest := &models.Quest{ID: 101, Code: "first-habit", Group: "novice", Type: models.QuestCreateHabit, Target: 1}
	premiumFuture := time.Now().Add(24 * time.Hour)

	tests := []struct {
		name      string
		level     int
		premium   bool
		completed map[int64]bool
		wantCode  string
	}{
		{name: "level inside first tier", level: 3, wantCode: "novice"},
		{name: "level past ceiling but quest pending", level: 6, wantCode: "novice"},
		{name: "level past ceiling and group done", level: 6, completed: map[int64]bool{101: true}, wantCode: "adept"},
		{name: "premium tier invisible without premium", level: 50, completed: map[int64]bool{101: true}, wantCode: "adept"},
		{name: "premium tier reachable with premium", level: 50, premium: true, completed: map[int64]bool{101: true}, wantCode: "master"},
		{name: "zero level treated as one", level: 0, wantCode: "novice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewTitleService(
				&titleFakeTitles{titles: progressionTitles()},
				&titleFakeQuests{
					byGroup:   map[string][]*models.Quest{"novice": {noviceQuest}},
					completed: tt.completed,
				},
				&titleFakeUsers{},
			)
			user := &models.User{ID: 1, Level: tt.level}
			if tt.premium {
				user.PremiumExpiration = premiumFuture
			}

			title, err := svc.DetermineTitle(context.Background(), user)
			if err != nil {
				t.Fatalf("DetermineTitle: %v", err)
			}
			if title == nil {
				t.Fatal("DetermineTitle returned nil")
			}
			if title.Code != tt.wantCode {
				t.Errorf("title = %s, want %s", title.Code, tt.wantCode)
			}
		})
	}
}

func TestSyncTitlePersistsOnlyOnChange(t *testing.T) {
	users := &titleFakeUsers{}
	svc := NewTitleService(
		&titleFakeTitles{titles: progressionTitles()},
		&titleFakeQuests{byGroup: map[string][]*models.Quest{}},
		users,
	)

	user := &models.User{ID: 1, Level: 6}
	if err := svc.SyncTitle(context.Background(), user); err != nil {
		t.Fatalf("SyncTitle: %v", err)
	}
	if users.setTitleCalls != 1 || users.lastTitleID != 2 {
		t.Fatalf("first sync: calls=%d titleID=%d, want 1 call setting 2", users.setTitleCalls, users.lastTitleID)
	}
	if user.CurrentTitleID != 2 {
		t.Fatalf("CurrentTitleID = %d, want 2", user.CurrentTitleID)
	}

	if err := svc.SyncTitle(context.Background(), user); err != nil {
		t.Fatalf("second SyncTitle: %v", err)
	}
	if users.setTitleCalls != 1 {
		t.Errorf("unchanged title persisted again: %d calls", users.setTitleCalls)
	}
}

func TestResolveTitleDemotesLapsedPremium(t *testing.T) {
	users := &titleFakeUsers{}
	svc := NewTitleService(
		&titleFakeTitles{titles: progressionTitles()},
		&titleFakeQuests{byGroup: map[string][]*models.Quest{}},
		users,
	)

	// Holds the premium-gated title but the subscription has lapsed.
	user := &models.User{
		ID:                1,
		Level:             50,
		CurrentTitleID:    3,
		PremiumExpiration: time.Now().Add(-time.Hour),
	}
	title, err := svc.ResolveTitle(context.Background(), user)
	if err != nil {
		t.Fatalf("ResolveTitle: %v", err)
	}
	if title == nil || title.Code != "adept" {
		t.Fatalf("resolved title = %+v, want adept", title)
	}
	if user.CurrentTitleID != 2 {
		t.Errorf("CurrentTitleID = %d, want demoted to 2", user.CurrentTitleID)
	}
}

func TestResolveTitleKeepsHeldTitle(t *testing.T) {
	svc := NewTitleService(
		&titleFakeTitles{titles: progressionTitles()},
		&titleFakeQuests{byGroup: map[string][]*models.Quest{}},
		&titleFakeUsers{},
	)

	user := &models.User{ID: 1, Level: 7, CurrentTitleID: 2}
	title, err := svc.ResolveTitle(context.Background(), user)
	if err != nil {
		t.Fatalf("ResolveTitle: %v", err)
	}
	if title == nil || title.ID != 2 {
		t.Errorf("resolved title = %+v, want held title 2", title)
	}
}

func TestStatsDaysLimitDefault(t *testing.T) {
	svc := NewTitleService(
		&titleFakeTitles{},
		&titleFakeQuests{byGroup: map[string][]*models.Quest{}},
		&titleFakeUsers{},
	)
	user := &models.User{ID: 1, Level: 1}
	if got := svc.StatsDaysLimit(context.Background(), user); got != 30 {
		t.Errorf("StatsDaysLimit = %d, want default 30", got)
	}
}
