package models

import (
	"time"

	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           int64  `bun:"id,pk,autoincrement"`
	TelegramID   int64  `bun:"telegram_id,unique"`
	Username     string `bun:"username"`
	FirstName    string `bun:"first_name"`
	PhotoURL     string `bun:"photo_url"`
	LanguageCode string `bun:"language_code,notnull,default:'ru'"`

	// Progression
	XP             int64 `bun:"xp,notnull,default:0"`
	Level          int   `bun:"level,notnull,default:1"`
	CurrentTitleID int64 `bun:"current_title_id,nullzero"`

	// Purchase benefits, written by the payment integration only
	PremiumExpiration time.Time `bun:"premium_expiration,nullzero"`
	XPBoostMultiplier float64   `bun:"xp_boost_multiplier,notnull,default:1"`
	XPBoostExpiresAt  time.Time `bun:"xp_boost_expires_at,nullzero"`
	StreakShields     int       `bun:"streak_shields,notnull,default:0"`

	// Preferences
	ParticipationInRatings bool `bun:"participation_in_ratings,notnull,default:true"`
	NotificationHabit      bool `bun:"notification_habit,notnull,default:true"`
	NotificationStreak     bool `bun:"notification_streak,notnull,default:true"`
	NotificationQuests     bool `bun:"notification_quests,notnull,default:true"`

	IsActive   bool      `bun:"is_active,notnull,default:true"`
	DateJoined time.Time `bun:"date_joined,notnull,default:current_timestamp"`
}

// PremiumActive reports whether the premium subscription covers now.
func (u *User) PremiumActive(now time.Time) bool {
	return !u.PremiumExpiration.IsZero() && u.PremiumExpiration.After(now)
}

// BoostMultiplier returns the temporary XP boost factor, or 1 when
// no boost is active.
func (u *User) BoostMultiplier(now time.Time) float64 {
	if u.XPBoostExpiresAt.IsZero() || !u.XPBoostExpiresAt.After(now) {
		return 1
	}
	if u.XPBoostMultiplier <= 1 {
		return 1
	}
	return u.XPBoostMultiplier
}
