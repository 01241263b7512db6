package xp

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/strivelab/habit-flow/habitflow/cache"
)

// floorIncrScript adjusts the rolling pending total without ever
// letting it go negative (a flush can subtract more than the counter
// holds after a partial cache loss).
var floorIncrScript = redis.NewScript(`
local current = tonumber(redis.call('get', KEYS[1]) or '0')
local delta = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local next = current + delta
if next < 0 then
    next = 0
end
redis.call('set', KEYS[1], next)
redis.call('expire', KEYS[1], ttl)
return next
`)

// PendingBuffer is the fast, best-effort-durable staging area for XP
// that has not yet been committed to the interval ledger. The 3-hour
// buckets are the source of truth for a flush; the per-range ZSETs
// and per-user totals are auxiliary read indexes, rebuildable by
// scanning the buckets.
type PendingBuffer struct {
	redis *cache.Redis
}

func NewPendingBuffer(r *cache.Redis) *PendingBuffer {
	return &PendingBuffer{redis: r}
}

// Register stages awarded XP into the event's window bucket and
// refreshes the range indexes and the rolling user total. Sub-updates
// are independent: a partially applied register is acceptable because
// the synchronous durable fallback is the correctness backstop.
func (b *PendingBuffer) Register(ctx context.Context, userID, amount int64, eventTime time.Time) error {
	if amount <= 0 {
		return nil
	}
	if b.redis == nil {
		return fmt.Errorf("pending buffer cache not configured")
	}
	rdb := b.redis.Client()
	start := IntervalStart(eventTime)
	key := bucketKey(start)
	field := strconv.FormatInt(userID, 10)
	stamp := strconv.FormatInt(start.Unix(), 10)
	ttl := BucketTTL

	if err := rdb.HIncrBy(ctx, key, field, amount).Err(); err != nil {
		return fmt.Errorf("failed to stage pending xp: %w", err)
	}
	if err := rdb.Expire(ctx, key, ttl).Err(); err != nil {
		slog.Warn("Failed to refresh bucket TTL", slog.String("key", key), slog.Any("error", err))
	}

	for _, rangeKey := range []string{RangeWeek, RangeMonth} {
		periodKey := pendingBucketKey(rangeKey, start)
		indexKey := pendingIndexKey(rangeKey)
		if err := rdb.ZIncrBy(ctx, periodKey, float64(amount), field).Err(); err != nil {
			slog.Warn("Failed to update range bucket",
				slog.String("range", rangeKey),
				slog.Any("error", err))
			continue
		}
		rdb.Expire(ctx, periodKey, ttl)
		rdb.ZAdd(ctx, indexKey, &redis.Z{Score: float64(start.Unix()), Member: stamp})
		rdb.Expire(ctx, indexKey, ttl)
	}

	b.incrUserTotal(ctx, userID, amount)
	return nil
}

// PendingRangeSums sums unflushed per-user XP across the buckets
// covering the range's trailing window, using the range index when it
// exists and a full bucket scan when it does not.
func (b *PendingBuffer) PendingRangeSums(ctx context.Context, rangeKey string, now time.Time) (map[int64]int64, error) {
	window, ok := RangeWindow(rangeKey)
	if !ok {
		return nil, fmt.Errorf("range %q has no trailing window", rangeKey)
	}
	if b.redis == nil {
		return map[int64]int64{}, nil
	}
	start := now.UTC().Add(-window)
	end := now.UTC()
	rdb := b.redis.Client()

	sums := make(map[int64]int64)

	stamps, err := rdb.ZRangeByScore(ctx, pendingIndexKey(rangeKey), &redis.ZRangeBy{
		Min: strconv.FormatInt(start.Unix(), 10),
		Max: strconv.FormatInt(end.Unix()-1, 10),
	}).Result()
	if err == nil && len(stamps) > 0 {
		for _, stamp := range stamps {
			ts, err := strconv.ParseInt(stamp, 10, 64)
			if err != nil {
				continue
			}
			members, err := rdb.ZRangeWithScores(ctx, pendingBucketKey(rangeKey, time.Unix(ts, 0).UTC()), 0, -1).Result()
			if err != nil {
				continue
			}
			for _, member := range members {
				userID, err := strconv.ParseInt(fmt.Sprint(member.Member), 10, 64)
				if err != nil || userID <= 0 || member.Score <= 0 {
					continue
				}
				sums[userID] += int64(member.Score)
			}
		}
		return sums, nil
	}

	// Index missing or stale: the buckets themselves are enumerable by
	// key, so fall back to a scan.
	keys, err := b.redis.ScanKeys(ctx, bucketKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		bucketStart, ok := bucketStartFromKey(key)
		if !ok || bucketStart.Before(start) || !bucketStart.Before(end) {
			continue
		}
		fields, err := rdb.HGetAll(ctx, key).Result()
		if err != nil {
			continue
		}
		addBucketFields(sums, fields)
	}
	return sums, nil
}

// PendingTotalFor returns the user's not-yet-flushed XP. Errors
// degrade to zero: live reads prefer a smaller number over a failure.
func (b *PendingBuffer) PendingTotalFor(ctx context.Context, userID int64) int64 {
	if b.redis == nil {
		return 0
	}
	rdb := b.redis.Client()
	raw, err := rdb.Get(ctx, pendingUserTotalKey(userID)).Result()
	if err == nil {
		if total, perr := strconv.ParseInt(raw, 10, 64); perr == nil && total >= 0 {
			return total
		}
	} else if err != redis.Nil {
		return 0
	}

	// Accumulator missing: reconstruct from the buckets.
	keys, err := b.redis.ScanKeys(ctx, bucketKeyPrefix+"*")
	if err != nil {
		return 0
	}
	field := strconv.FormatInt(userID, 10)
	var total int64
	for _, key := range keys {
		raw, err := rdb.HGet(ctx, key, field).Result()
		if err != nil {
			continue
		}
		if v, perr := strconv.ParseInt(raw, 10, 64); perr == nil && v > 0 {
			total += v
		}
	}
	return total
}

func (b *PendingBuffer) incrUserTotal(ctx context.Context, userID, delta int64) {
	if delta == 0 || b.redis == nil {
		return
	}
	err := floorIncrScript.Run(ctx, b.redis.Client(),
		[]string{pendingUserTotalKey(userID)},
		delta, int64(BucketTTL.Seconds())).Err()
	if err != nil {
		slog.Warn("Failed to adjust pending total",
			slog.Int64("user_id", userID),
			slog.Any("error", err))
	}
}

func addBucketFields(sums map[int64]int64, fields map[string]string) {
	for rawID, rawXP := range fields {
		userID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || userID <= 0 {
			continue
		}
		v, err := strconv.ParseInt(rawXP, 10, 64)
		if err != nil || v <= 0 {
			continue
		}
		sums[userID] += v
	}
}
