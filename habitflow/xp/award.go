package xp

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/strivelab/habit-flow/habitflow/database/models"
)

// StreakSource supplies the user-level streak used for the award
// multiplier. Implemented by the streak service.
type StreakSource interface {
	UserStreak(ctx context.Context, user *models.User, date time.Time) (int, error)
}

// Awarder runs the full XP award pipeline: daily cap, multipliers,
// pending-buffer registration, opportunistic flush, and the
// synchronous durable fallback.
type Awarder struct {
	counter *Counter
	buffer  *PendingBuffer
	flusher *Flusher
	streaks StreakSource

	now func() time.Time
}

func NewAwarder(counter *Counter, buffer *PendingBuffer, flusher *Flusher, streaks StreakSource) *Awarder {
	return &Awarder{
		counter: counter,
		buffer:  buffer,
		flusher: flusher,
		streaks: streaks,
		now:     time.Now,
	}
}

// AwardXP caps the base amount against the user's daily budget,
// applies the streak, premium and boost multipliers, and banks the
// result. A zero return means the cap was already exhausted. XP is
// never dropped: buffering failures fall back to direct crediting.
func (a *Awarder) AwardXP(ctx context.Context, user *models.User, baseXP int64, date time.Time, activeHabits int) (int64, error) {
	if baseXP <= 0 {
		return 0, nil
	}

	now := a.now()
	limit := DailyCap(activeHabits)
	baseApplied := a.counter.IncrementCapped(ctx, DayKey(user.ID, date), baseXP, limit, DailyTTL(date, now))
	if baseApplied <= 0 {
		return 0, nil
	}

	awarded := float64(baseApplied)
	if a.streaks != nil {
		streakDays, err := a.streaks.UserStreak(ctx, user, date)
		if err != nil {
			slog.Warn("Streak lookup failed, awarding without streak bonus",
				slog.Int64("user_id", user.ID),
				slog.Any("error", err))
		} else if m := StreakMultiplier(streakDays); m > 1 {
			awarded = math.Round(awarded * m)
		}
	}
	if user.PremiumActive(now) {
		awarded = math.Round(awarded * PremiumMultiplier)
	}
	if boost := user.BoostMultiplier(now); boost > 1 {
		awarded = math.Round(awarded * boost)
	}
	final := int64(awarded)

	if err := a.Bank(ctx, user.ID, final, now); err != nil {
		return 0, err
	}
	return final, nil
}

// Bank registers already-multiplied XP into the pending buffer and
// opportunistically triggers a flush, degrading to the direct durable
// path when the buffer cannot take the write. Quest grants reuse this
// entry point.
func (a *Awarder) Bank(ctx context.Context, userID, amount int64, eventTime time.Time) error {
	if amount <= 0 {
		return nil
	}
	if err := a.buffer.Register(ctx, userID, amount, eventTime); err != nil {
		slog.Warn("Pending buffer unavailable, crediting directly",
			slog.Int64("user_id", userID),
			slog.Any("error", err))
		return a.flusher.CreditDirect(ctx, userID, amount, eventTime)
	}

	// The caller never waits on the flush; contention or failure only
	// delays durability until the next cycle.
	go func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		a.flusher.MaybeFlush(flushCtx)
	}()
	return nil
}
