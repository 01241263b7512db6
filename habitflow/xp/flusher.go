package xp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/strivelab/habit-flow/habitflow/cache"
	"github.com/strivelab/habit-flow/habitflow/database/models"
	"github.com/strivelab/habit-flow/habitflow/database/repositories"
)

// TitleSyncer recomputes a user's title after their level may have
// changed. Implemented by the title service; nil disables resync.
type TitleSyncer interface {
	SyncTitle(ctx context.Context, user *models.User) error
}

// Flusher drains closed pending buckets into the durable interval
// ledger. At most one flush runs cluster-wide at a time, guarded by a
// short-TTL lease in the cache.
type Flusher struct {
	redis     *cache.Redis
	buffer    *PendingBuffer
	users     repositories.UserRepository
	intervals repositories.XpIntervalRepository
	titles    TitleSyncer
}

func NewFlusher(r *cache.Redis, buffer *PendingBuffer, users repositories.UserRepository, intervals repositories.XpIntervalRepository, titles TitleSyncer) *Flusher {
	return &Flusher{
		redis:     r,
		buffer:    buffer,
		users:     users,
		intervals: intervals,
		titles:    titles,
	}
}

// TryFlush drains every bucket strictly older than the current window
// (all buckets when force is set). A held lock means another worker
// is flushing; that is not an error, this cycle is simply skipped.
func (f *Flusher) TryFlush(ctx context.Context, force bool) (bool, error) {
	if f.redis == nil {
		return false, nil
	}
	rdb := f.redis.Client()
	token := uuid.NewString()

	acquired, err := rdb.SetNX(ctx, FlushLockKey, token, FlushLockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire flush lock: %w", err)
	}
	if !acquired {
		return false, nil
	}
	// Release only if the lease token is still ours: a slow flush whose
	// lock expired must not delete a newer worker's lock.
	defer func() {
		current, err := rdb.Get(context.WithoutCancel(ctx), FlushLockKey).Result()
		if err == nil && current == token {
			rdb.Del(context.WithoutCancel(ctx), FlushLockKey)
		}
	}()

	currentStart := IntervalStart(time.Now())
	keys, err := f.redis.ScanKeys(ctx, bucketKeyPrefix+"*")
	if err != nil {
		return false, fmt.Errorf("failed to enumerate pending buckets: %w", err)
	}

	type bucket struct {
		key   string
		start time.Time
	}
	var selected []bucket
	for _, key := range keys {
		start, ok := bucketStartFromKey(key)
		if !ok {
			continue
		}
		if !force && !start.Before(currentStart) {
			continue
		}
		selected = append(selected, bucket{key: key, start: start})
	}
	if len(selected) == 0 {
		return false, nil
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].start.Before(selected[j].start) })

	var entries []*models.XpIntervalEntry
	staged := make(map[int64]int64)
	for _, b := range selected {
		fields, err := rdb.HGetAll(ctx, b.key).Result()
		if err != nil {
			return false, fmt.Errorf("failed to read bucket %s: %w", b.key, err)
		}
		for rawID, rawXP := range fields {
			userID, err := strconv.ParseInt(rawID, 10, 64)
			if err != nil || userID <= 0 {
				continue
			}
			xpValue, err := strconv.ParseInt(rawXP, 10, 64)
			if err != nil || xpValue <= 0 {
				continue
			}
			entries = append(entries, &models.XpIntervalEntry{
				UserID:      userID,
				PeriodStart: b.start,
				PeriodEnd:   IntervalEnd(b.start),
				XP:          xpValue,
			})
			staged[userID] += xpValue
		}
	}

	// Duplicate (user, period_start) rows are silently skipped and only
	// the winning inserts count toward the durable total, so replaying
	// the same buckets cannot double-credit any user.
	inserted, err := f.intervals.InsertIgnoreDuplicates(ctx, entries)
	if err != nil {
		return false, fmt.Errorf("failed to persist interval entries: %w", err)
	}
	credited := make(map[int64]int64, len(inserted))
	for _, entry := range inserted {
		credited[entry.UserID] += entry.XP
	}
	for userID, delta := range credited {
		if err := f.users.AddXP(ctx, userID, delta); err != nil {
			return false, fmt.Errorf("failed to credit user %d: %w", userID, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for userID := range credited {
		userID := userID
		g.Go(func() error {
			if err := f.ResyncProgress(gctx, userID); err != nil {
				slog.Warn("Post-flush resync failed",
					slog.Int64("user_id", userID),
					slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()

	deleteKeys := make([]string, 0, len(selected)*3)
	stamps := make([]interface{}, 0, len(selected))
	for _, b := range selected {
		stamp := strconv.FormatInt(b.start.Unix(), 10)
		stamps = append(stamps, stamp)
		deleteKeys = append(deleteKeys,
			b.key,
			pendingBucketKey(RangeWeek, b.start),
			pendingBucketKey(RangeMonth, b.start),
		)
	}
	if err := rdb.Del(ctx, deleteKeys...).Err(); err != nil {
		slog.Warn("Failed to delete flushed buckets", slog.Any("error", err))
	}
	rdb.ZRem(ctx, pendingIndexKey(RangeWeek), stamps...)
	rdb.ZRem(ctx, pendingIndexKey(RangeMonth), stamps...)
	// The buckets are gone either way, so the rolling totals drop by
	// everything staged in them, not just what won an insert.
	for userID, delta := range staged {
		f.buffer.incrUserTotal(ctx, userID, -delta)
	}

	slog.Info("Flushed pending XP",
		slog.Int("buckets", len(selected)),
		slog.Int("entries", len(entries)),
		slog.Int("users", len(credited)))
	return len(entries) > 0, nil
}

// MaybeFlush is the opportunistic variant used on the award path:
// contention and failures are logged, never surfaced.
func (f *Flusher) MaybeFlush(ctx context.Context) {
	if _, err := f.TryFlush(ctx, false); err != nil {
		slog.Warn("Opportunistic flush failed", slog.Any("error", err))
	}
}

// CreditDirect is the synchronous, unbuffered crediting path used
// when the cache is unavailable. It merges into the current window's
// ledger entry and applies the same total/level/title updates a flush
// would, without needing the flush lock.
func (f *Flusher) CreditDirect(ctx context.Context, userID, awarded int64, now time.Time) error {
	if awarded <= 0 {
		return nil
	}
	start := IntervalStart(now)
	entry := &models.XpIntervalEntry{
		UserID:      userID,
		PeriodStart: start,
		PeriodEnd:   IntervalEnd(start),
		XP:          awarded,
	}
	if err := f.intervals.MergeEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to merge interval entry: %w", err)
	}
	if err := f.users.AddXP(ctx, userID, awarded); err != nil {
		return fmt.Errorf("failed to credit user total: %w", err)
	}
	return f.ResyncProgress(ctx, userID)
}

// ResyncProgress recomputes level from the durable total and, on
// change, persists it and resynchronizes the title.
func (f *Flusher) ResyncProgress(ctx context.Context, userID int64) error {
	user, err := f.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	newLevel := LevelFromTotalXP(user.XP)
	if newLevel != user.Level {
		if err := f.users.SetLevel(ctx, userID, newLevel); err != nil {
			return err
		}
		user.Level = newLevel
	}
	if f.titles != nil {
		return f.titles.SyncTitle(ctx, user)
	}
	return nil
}
