package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/strivelab/habit-flow/habitflow/database/models"
	"github.com/strivelab/habit-flow/habitflow/database/repositories"
	"github.com/strivelab/habit-flow/habitflow/xp"
)

const (
	leaderboardCacheTTL     = 5 * time.Minute
	leaderboardDefaultLimit = 10
	leaderboardMaxLimit     = 100
)

// Entry is one ranked leaderboard row.
type Entry struct {
	UserID    int64  `json:"id"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar"`
	Level     int    `json:"level"`
	XP        int64  `json:"xp"`
	Title     string `json:"title"`
	Rank      int    `json:"rank"`
	IsPremium bool   `json:"is_premium"`
}

// Payload is the full leaderboard response: ranked items plus the
// caller's own live entry, patched into the items when present.
type Payload struct {
	Range string  `json:"range"`
	Items []Entry `json:"items"`
	Me    *Entry  `json:"me"`
}

type snapshot struct {
	items   []Entry
	expires time.Time
}

// LeaderboardService merges durable per-period XP sums with pending
// unflushed sums into a ranked, briefly cached view.
type LeaderboardService struct {
	users     repositories.UserRepository
	intervals repositories.XpIntervalRepository
	buffer    *xp.PendingBuffer
	flusher   *xp.Flusher
	titles    *TitleService

	snapshots *lru.Cache
	now       func() time.Time
}

func NewLeaderboardService(users repositories.UserRepository, intervals repositories.XpIntervalRepository, buffer *xp.PendingBuffer, flusher *xp.Flusher, titles *TitleService) *LeaderboardService {
	snapshots, _ := lru.New(16)
	return &LeaderboardService{
		users:     users,
		intervals: intervals,
		buffer:    buffer,
		flusher:   flusher,
		titles:    titles,
		snapshots: snapshots,
		now:       time.Now,
	}
}

func normalizeRange(rangeKey string) string {
	switch rangeKey {
	case xp.RangeWeek, xp.RangeMonth, xp.RangeAll:
		return rangeKey
	default:
		return xp.RangeMonth
	}
}

// LiveXP is the durable lifetime total plus the user's unflushed
// pending amount. Cache problems degrade to the durable total alone.
func (s *LeaderboardService) LiveXP(ctx context.Context, user *models.User) int64 {
	if s.buffer == nil {
		return user.XP
	}
	if s.flusher != nil {
		s.flusher.MaybeFlush(ctx)
	}
	return user.XP + s.buffer.PendingTotalFor(ctx, user.ID)
}

// periodRanking orders ranking participants by merged period score,
// breaking ties by lifetime XP then user id so the order is total.
func (s *LeaderboardService) periodRanking(ctx context.Context, rangeKey string) ([]*models.User, map[int64]int64, error) {
	users, err := s.users.GetRankingParticipants(ctx)
	if err != nil {
		return nil, nil, err
	}
	now := s.now().UTC()
	window, _ := xp.RangeWindow(rangeKey)
	durable, err := s.intervals.PeriodSums(ctx, now.Add(-window), now)
	if err != nil {
		return nil, nil, err
	}
	var pending map[int64]int64
	if s.buffer != nil {
		if pending, err = s.buffer.PendingRangeSums(ctx, rangeKey, now); err != nil {
			slog.Warn("Pending range sums unavailable",
				slog.String("range", rangeKey),
				slog.Any("error", err))
			pending = nil
		}
	}

	scores := make(map[int64]int64, len(users))
	for _, u := range users {
		scores[u.ID] = durable[u.ID] + pending[u.ID]
	}
	sort.SliceStable(users, func(i, j int) bool {
		si, sj := scores[users[i].ID], scores[users[j].ID]
		if si != sj {
			return si > sj
		}
		if users[i].XP != users[j].XP {
			return users[i].XP > users[j].XP
		}
		return users[i].ID < users[j].ID
	})
	return users, scores, nil
}

func (s *LeaderboardService) buildItems(ctx context.Context, users []*models.User, scores map[int64]int64, limit int) []Entry {
	if len(users) > limit {
		users = users[:limit]
	}
	items := make([]Entry, 0, len(users))
	for i, u := range users {
		items = append(items, s.entryFor(ctx, u, scores[u.ID], i+1))
	}
	return items
}

func (s *LeaderboardService) entryFor(ctx context.Context, u *models.User, score int64, rank int) Entry {
	var titleName string
	if s.titles != nil {
		if title, err := s.titles.ResolveTitle(ctx, u); err == nil && title != nil {
			titleName = title.Name
		}
	}
	name := u.FirstName
	if name == "" {
		name = u.Username
	}
	if name == "" {
		name = fmt.Sprintf("User %d", u.ID)
	}
	level := u.Level
	if level < 1 {
		level = 1
	}
	return Entry{
		UserID:    u.ID,
		Name:      name,
		Avatar:    u.PhotoURL,
		Level:     level,
		XP:        score,
		Title:     titleName,
		Rank:      rank,
		IsPremium: u.PremiumActive(s.now()),
	}
}

// GetLeaderboard returns the ranked items for a range plus the
// caller's own rank and score. Items are served from a short-lived
// snapshot; the caller's entry is always recomputed live.
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, user *models.User, rangeKey string, limit int) (*Payload, error) {
	rangeKey = normalizeRange(rangeKey)
	if limit < 1 {
		limit = leaderboardDefaultLimit
	}
	if limit > leaderboardMaxLimit {
		limit = leaderboardMaxLimit
	}
	if s.flusher != nil {
		s.flusher.MaybeFlush(ctx)
	}

	cacheKey := fmt.Sprintf("%s:%d", rangeKey, limit)
	var items []Entry
	var rankingUsers []*models.User
	var rankingScores map[int64]int64

	if v, ok := s.snapshots.Get(cacheKey); ok {
		snap := v.(snapshot)
		if snap.expires.After(s.now()) {
			items = snap.items
		}
	}
	if items == nil {
		var err error
		if rangeKey == xp.RangeAll {
			rankingUsers, err = s.users.GetRankingParticipants(ctx)
			if err != nil {
				return nil, err
			}
			rankingScores = make(map[int64]int64, len(rankingUsers))
			for _, u := range rankingUsers {
				rankingScores[u.ID] = u.XP
			}
		} else {
			rankingUsers, rankingScores, err = s.periodRanking(ctx, rangeKey)
			if err != nil {
				return nil, err
			}
		}
		items = s.buildItems(ctx, rankingUsers, rankingScores, limit)
		s.snapshots.Add(cacheKey, snapshot{items: items, expires: s.now().Add(leaderboardCacheTTL)})
	}

	me, err := s.meEntry(ctx, user, rangeKey, rankingUsers, rankingScores)
	if err != nil {
		return nil, err
	}

	if me != nil {
		patched := make([]Entry, len(items))
		for i, item := range items {
			if item.UserID == me.UserID {
				live := *me
				live.Rank = item.Rank
				patched[i] = live
			} else {
				patched[i] = item
			}
		}
		items = patched
	}

	return &Payload{Range: rangeKey, Items: items, Me: me}, nil
}

func (s *LeaderboardService) meEntry(ctx context.Context, user *models.User, rangeKey string, rankingUsers []*models.User, scores map[int64]int64) (*Entry, error) {
	fresh, err := s.users.GetByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if !fresh.ParticipationInRatings {
		return nil, nil
	}

	if rangeKey == xp.RangeAll {
		higher, err := s.users.CountHigherRanked(ctx, fresh.XP, fresh.ID)
		if err != nil {
			return nil, err
		}
		entry := s.entryFor(ctx, fresh, fresh.XP, higher+1)
		return &entry, nil
	}

	if rankingUsers == nil {
		rankingUsers, scores, err = s.periodRanking(ctx, rangeKey)
		if err != nil {
			return nil, err
		}
	}
	rank := 0
	for i, ranked := range rankingUsers {
		if ranked.ID == fresh.ID {
			rank = i + 1
			break
		}
	}
	entry := s.entryFor(ctx, fresh, scores[fresh.ID], rank)
	return &entry, nil
}
