package xp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// BaseCompletionXP is the raw XP for completing a habit to its
	// daily goal, before the daily cap and multipliers.
	BaseCompletionXP = 10

	// PremiumMultiplier is applied to awards and quest grants while a
	// premium subscription is active.
	PremiumMultiplier = 1.3

	// IntervalWidth is the pending-bucket window. Bucket keys embed the
	// window start, so the set of buckets is enumerable by key scan
	// without a master index.
	IntervalWidth = 3 * time.Hour

	// BucketTTL bounds how long unflushed XP survives in the cache.
	BucketTTL = 45 * 24 * time.Hour

	FlushLockKey = "xp:flush:lock"
	FlushLockTTL = 120 * time.Second

	bucketKeyPrefix = "xp:bucket:3h:"
)

const (
	RangeWeek  = "week"
	RangeMonth = "month"
	RangeAll   = "all"
)

// RangeWindow returns the trailing window covered by a leaderboard
// range, or false for ranges without one (all-time).
func RangeWindow(rangeKey string) (time.Duration, bool) {
	switch rangeKey {
	case RangeWeek:
		return 168 * time.Hour, true
	case RangeMonth:
		return 720 * time.Hour, true
	default:
		return 0, false
	}
}

// IntervalStart aligns t down to its 3-hour window start in UTC.
func IntervalStart(t time.Time) time.Time {
	utc := t.UTC()
	hour := utc.Hour() - utc.Hour()%3
	return time.Date(utc.Year(), utc.Month(), utc.Day(), hour, 0, 0, 0, time.UTC)
}

func IntervalEnd(start time.Time) time.Time {
	return start.Add(IntervalWidth)
}

func bucketKey(start time.Time) string {
	return bucketKeyPrefix + strconv.FormatInt(start.Unix(), 10)
}

func bucketStartFromKey(key string) (time.Time, bool) {
	suffix, found := strings.CutPrefix(key, bucketKeyPrefix)
	if !found {
		return time.Time{}, false
	}
	ts, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(ts, 0).UTC(), true
}

func pendingBucketKey(rangeKey string, start time.Time) string {
	return fmt.Sprintf("xp:pending:%s:bucket:%d", rangeKey, start.Unix())
}

func pendingIndexKey(rangeKey string) string {
	return fmt.Sprintf("xp:pending:%s:index", rangeKey)
}

func pendingUserTotalKey(userID int64) string {
	return fmt.Sprintf("xp:pending:user:%d:total", userID)
}

// DayKey is the capped daily counter key for one user and date.
func DayKey(userID int64, date time.Time) string {
	return fmt.Sprintf("xp:day:%d:%s", userID, date.Format("2006-01-02"))
}

// DailyTTL keeps the daily counter alive until a few hours past
// midnight so late writers still see the cap.
func DailyTTL(date, now time.Time) time.Duration {
	endOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, 1).
		Add(6 * time.Hour)
	ttl := endOfDay.Sub(now)
	if ttl < time.Hour {
		return time.Hour
	}
	return ttl
}
