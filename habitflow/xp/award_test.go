package xp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/strivelab/habit-flow/habitflow/database/models"
	"github.com/strivelab/habit-flow/habitflow/database/repositories"
)

type awardFakeUsers struct {
	repositories.UserRepository

	mu    sync.Mutex
	users map[int64]*models.User
}

func (f *awardFakeUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := *f.users[id]
	return &u, nil
}

func (f *awardFakeUsers) AddXP(_ context.Context, userID, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID].XP += delta
	return nil
}

func (f *awardFakeUsers) SetLevel(_ context.Context, userID int64, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID].Level = level
	return nil
}

type awardFakeIntervals struct {
	repositories.XpIntervalRepository

	mu     sync.Mutex
	merged map[int64]int64 // user id -> summed xp
}

func (f *awardFakeIntervals) MergeEntry(_ context.Context, entry *models.XpIntervalEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.merged == nil {
		f.merged = make(map[int64]int64)
	}
	f.merged[entry.UserID] += entry.XP
	return nil
}

type fixedStreak struct{ days int }

func (s fixedStreak) UserStreak(context.Context, *models.User, time.Time) (int, error) {
	return s.days, nil
}

// newDirectAwarder wires an Awarder whose cache-backed paths are all
// degraded, so every award lands synchronously through CreditDirect.
func newDirectAwarder(users *awardFakeUsers, intervals *awardFakeIntervals, streaks StreakSource) *Awarder {
	buffer := NewPendingBuffer(nil)
	flusher := NewFlusher(nil, buffer, users, intervals, nil)
	return NewAwarder(NewCounter(nil), buffer, flusher, streaks)
}

func utcToday() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func TestAwardXPMultipliers(t *testing.T) {
	future := time.Now().Add(24 * time.Hour)

	tests := []struct {
		name       string
		streakDays int
		premium    bool
		boost      float64
		want       int64
	}{
		{name: "no bonuses", want: 10},
		{name: "three day streak", streakDays: 3, want: 13},
		{name: "week streak", streakDays: 7, want: 15},
		{name: "long streak", streakDays: 20, want: 20},
		{name: "premium only", premium: true, want: 13},
		{name: "week streak with premium", streakDays: 7, premium: true, want: 20},
		{name: "long streak premium and boost", streakDays: 20, premium: true, boost: 2, want: 52},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := &models.User{ID: 1, Level: 1}
			if tt.premium {
				user.PremiumExpiration = future
			}
			if tt.boost > 1 {
				user.XPBoostMultiplier = tt.boost
				user.XPBoostExpiresAt = future
			}
			users := &awardFakeUsers{users: map[int64]*models.User{1: user}}
			intervals := &awardFakeIntervals{}
			awarder := newDirectAwarder(users, intervals, fixedStreak{days: tt.streakDays})

			got, err := awarder.AwardXP(context.Background(), user, BaseCompletionXP, utcToday(), 2)
			if err != nil {
				t.Fatalf("AwardXP: %v", err)
			}
			if got != tt.want {
				t.Errorf("AwardXP = %d, want %d", got, tt.want)
			}
			if users.users[1].XP != tt.want {
				t.Errorf("durable total = %d, want %d", users.users[1].XP, tt.want)
			}
			if intervals.merged[1] != tt.want {
				t.Errorf("interval ledger = %d, want %d", intervals.merged[1], tt.want)
			}
		})
	}
}

func TestAwardXPDailyCap(t *testing.T) {
	user := &models.User{ID: 1, Level: 1}
	users := &awardFakeUsers{users: map[int64]*models.User{1: user}}
	intervals := &awardFakeIntervals{}
	awarder := newDirectAwarder(users, intervals, fixedStreak{})
	ctx := context.Background()
	today := utcToday()

	// Two active habits keep the daily budget at 50 base XP.
	if got, _ := awarder.AwardXP(ctx, user, 40, today, 2); got != 40 {
		t.Fatalf("first award = %d, want 40", got)
	}
	if got, _ := awarder.AwardXP(ctx, user, 30, today, 2); got != 10 {
		t.Fatalf("clamped award = %d, want 10", got)
	}
	if got, _ := awarder.AwardXP(ctx, user, 10, today, 2); got != 0 {
		t.Fatalf("exhausted award = %d, want 0", got)
	}
	if users.users[1].XP != 50 {
		t.Errorf("durable total = %d, want the cap 50", users.users[1].XP)
	}
}

func TestAwardXPRecomputesLevel(t *testing.T) {
	user := &models.User{ID: 1, Level: 1}
	users := &awardFakeUsers{users: map[int64]*models.User{1: user}}
	intervals := &awardFakeIntervals{}
	awarder := newDirectAwarder(users, intervals, fixedStreak{})

	if _, err := awarder.AwardXP(context.Background(), user, 10, utcToday(), 2); err != nil {
		t.Fatalf("AwardXP: %v", err)
	}
	if got, want := users.users[1].Level, LevelFromTotalXP(10); got != want {
		t.Errorf("level = %d, want %d", got, want)
	}
}

func TestBankRejectsNonPositive(t *testing.T) {
	users := &awardFakeUsers{users: map[int64]*models.User{1: {ID: 1, Level: 1}}}
	intervals := &awardFakeIntervals{}
	awarder := newDirectAwarder(users, intervals, fixedStreak{})

	if err := awarder.Bank(context.Background(), 1, 0, time.Now()); err != nil {
		t.Fatalf("Bank(0): %v", err)
	}
	if err := awarder.Bank(context.Background(), 1, -5, time.Now()); err != nil {
		t.Fatalf("Bank(-5): %v", err)
	}
	if users.users[1].XP != 0 {
		t.Errorf("durable total changed: %d", users.users[1].XP)
	}
}
