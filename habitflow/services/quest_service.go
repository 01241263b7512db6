package services

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/strivelab/habit-flow/habitflow/database/models"
	"github.com/strivelab/habit-flow/habitflow/database/repositories"
	"github.com/strivelab/habit-flow/habitflow/xp"
)

// QuestService idempotently detects quest completion and grants the
// one-time XP reward through the award pipeline.
type QuestService struct {
	quests    repositories.QuestRepository
	habits    repositories.HabitRepository
	intervals repositories.XpIntervalRepository
	buffer    *xp.PendingBuffer
	awarder   *xp.Awarder

	now func() time.Time
}

func NewQuestService(quests repositories.QuestRepository, habits repositories.HabitRepository, intervals repositories.XpIntervalRepository, buffer *xp.PendingBuffer, awarder *xp.Awarder) *QuestService {
	return &QuestService{
		quests:    quests,
		habits:    habits,
		intervals: intervals,
		buffer:    buffer,
		awarder:   awarder,
		now:       time.Now,
	}
}

// questFacts carries the aggregated read models every predicate
// evaluates against, loaded once per evaluation pass.
type questFacts struct {
	habitsCount       int
	publicHabitsCount int
	maxStreak         int
	monthXP           int64
	hasJoinedPublic   bool
	hasSharedHabit    bool
	publicHabits      []*models.Habit
}

func (s *QuestService) loadFacts(ctx context.Context, user *models.User) (*questFacts, error) {
	facts := &questFacts{}
	var err error

	if facts.habitsCount, err = s.habits.CountByOwner(ctx, user.ID); err != nil {
		return nil, err
	}
	if facts.publicHabits, err = s.habits.GetPublicByOwner(ctx, user.ID); err != nil {
		return nil, err
	}
	facts.publicHabitsCount = len(facts.publicHabits)
	habits, err := s.habits.GetByOwner(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	for _, h := range habits {
		if h.StreakCurrent > facts.maxStreak {
			facts.maxStreak = h.StreakCurrent
		}
	}
	if facts.hasJoinedPublic, err = s.habits.HasCopies(ctx, user.ID); err != nil {
		return nil, err
	}
	if facts.hasSharedHabit, err = s.habits.HasShares(ctx, user.ID); err != nil {
		return nil, err
	}
	facts.monthXP = s.MonthXP(ctx, user.ID)
	return facts, nil
}

// MonthXP merges the durable month-to-date interval sum with the
// unflushed pending sum, matching what the leaderboard reports.
func (s *QuestService) MonthXP(ctx context.Context, userID int64) int64 {
	now := s.now().UTC()
	window, _ := xp.RangeWindow(xp.RangeMonth)
	durable, err := s.intervals.UserPeriodSum(ctx, userID, now.Add(-window), now)
	if err != nil {
		slog.Warn("Month XP durable sum failed", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	var pending int64
	if s.buffer != nil {
		if sums, err := s.buffer.PendingRangeSums(ctx, xp.RangeMonth, now); err == nil {
			pending = sums[userID]
		}
	}
	return durable + pending
}

func (s *QuestService) satisfied(ctx context.Context, user *models.User, quest *models.Quest, facts *questFacts) (bool, error) {
	meta := quest.DecodeMetadata()
	switch quest.Type {
	case models.QuestCreateHabit:
		return facts.habitsCount >= quest.Target, nil
	case models.QuestPublicHabitCreated:
		return facts.publicHabitsCount >= quest.Target, nil
	case models.QuestJoinPublicHabit:
		return facts.hasJoinedPublic, nil
	case models.QuestShareHabit:
		return facts.hasSharedHabit, nil
	case models.QuestStreakDays:
		return facts.maxStreak >= quest.Target, nil
	case models.QuestLevelReached:
		level := user.Level
		if level < 1 {
			level = 1
		}
		return level >= quest.Target, nil
	case models.QuestPopularHabit:
		count, err := s.habits.CountPublicWithMinCopies(ctx, user.ID, 50)
		return count > 0, err
	case models.QuestInfluentialHabit:
		count, err := s.habits.CountPublicWithMinCopies(ctx, user.ID, 200)
		return count > 0, err
	case models.QuestTrendSetter:
		count, err := s.habits.CountPublicWithMinCopies(ctx, user.ID, meta.MinAdditions)
		return count >= quest.Target, err
	case models.QuestMonthlyXP:
		return facts.monthXP >= int64(quest.Target), nil
	case models.QuestCommunitySupport:
		top := facts.publicHabits
		if len(top) > 5 {
			top = top[:5]
		}
		sum := 0
		for _, h := range top {
			sum += h.CopiedCount
		}
		return len(top) >= meta.Habits && sum >= quest.Target, nil
	case models.QuestMentorStreak:
		count, err := s.habits.CountMenteesWithStreak(ctx, user.ID, meta.MinUserStreak)
		return count >= quest.Target, err
	default:
		// Unknown predicate types are inert rather than errors.
		return false, nil
	}
}

// Evaluate checks every active, not-yet-completed quest and grants
// newly satisfied ones. The unique (user, quest) row is the
// idempotency guard: a losing concurrent insert is a no-op and never
// double-grants XP. Safe to call on every read.
func (s *QuestService) Evaluate(ctx context.Context, user *models.User) ([]*models.UserQuest, error) {
	active, err := s.quests.GetActiveQuests(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}
	completed, err := s.quests.GetUserCompletions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	facts, err := s.loadFacts(ctx, user)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var granted []*models.UserQuest
	for _, quest := range active {
		if _, done := completed[quest.ID]; done {
			continue
		}
		ok, err := s.satisfied(ctx, user, quest, facts)
		if err != nil {
			return granted, err
		}
		if !ok {
			continue
		}

		// Level milestones are cosmetic and award nothing; everything
		// else freezes the premium-adjusted amount at grant time.
		var awarded int64
		if quest.Type != models.QuestLevelReached {
			awarded = quest.XP
			if user.PremiumActive(now) {
				awarded = int64(math.Round(float64(quest.XP) * xp.PremiumMultiplier))
			}
		}

		uq := &models.UserQuest{
			UserID:      user.ID,
			QuestID:     quest.ID,
			CompletedAt: now,
			XPAwarded:   awarded,
		}
		won, err := s.quests.CreateCompletion(ctx, uq)
		if err != nil {
			return granted, err
		}
		if !won {
			continue
		}
		if awarded > 0 {
			if err := s.awarder.Bank(ctx, user.ID, awarded, now); err != nil {
				slog.Error("Quest XP grant failed",
					slog.Int64("user_id", user.ID),
					slog.String("quest", quest.Code),
					slog.Any("error", err))
			}
		}
		granted = append(granted, uq)
	}
	return granted, nil
}

// QuestProgress is the display read model for one quest.
type QuestProgress struct {
	Current int
	Target  int
	Show    bool
}

// Progress builds per-quest progress counters, clamped to target.
func (s *QuestService) Progress(ctx context.Context, user *models.User) (map[int64]QuestProgress, error) {
	active, err := s.quests.GetActiveQuests(ctx)
	if err != nil {
		return nil, err
	}
	facts, err := s.loadFacts(ctx, user)
	if err != nil {
		return nil, err
	}

	maxCopied := 0
	if len(facts.publicHabits) > 0 {
		maxCopied = facts.publicHabits[0].CopiedCount
	}

	progress := make(map[int64]QuestProgress, len(active))
	for _, quest := range active {
		meta := quest.DecodeMetadata()
		target := quest.Target
		if target < 1 {
			target = 1
		}
		current := 0
		show := true

		switch quest.Type {
		case models.QuestCreateHabit:
			current = facts.habitsCount
		case models.QuestPublicHabitCreated:
			current = facts.publicHabitsCount
		case models.QuestJoinPublicHabit:
			target = 1
			show = false
			if facts.hasJoinedPublic {
				current = 1
			}
		case models.QuestShareHabit:
			target = 1
			show = false
			if facts.hasSharedHabit {
				current = 1
			}
		case models.QuestStreakDays:
			current = facts.maxStreak
		case models.QuestLevelReached:
			current = user.Level
		case models.QuestPopularHabit, models.QuestInfluentialHabit:
			current = maxCopied
		case models.QuestTrendSetter:
			current, err = s.habits.CountPublicWithMinCopies(ctx, user.ID, meta.MinAdditions)
			if err != nil {
				return nil, err
			}
		case models.QuestMonthlyXP:
			current = int(facts.monthXP)
		case models.QuestCommunitySupport:
			top := facts.publicHabits
			if len(top) > 5 {
				top = top[:5]
			}
			for _, h := range top {
				current += h.CopiedCount
			}
		case models.QuestMentorStreak:
			current, err = s.habits.CountMenteesWithStreak(ctx, user.ID, meta.MinUserStreak)
			if err != nil {
				return nil, err
			}
		default:
			show = false
		}

		if current > target {
			current = target
		}
		progress[quest.ID] = QuestProgress{Current: current, Target: target, Show: show}
	}
	return progress, nil
}
