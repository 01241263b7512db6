package models

import (
	"time"

	"github.com/uptrace/bun"
)

// XpIntervalEntry is the durable ledger row for one user's XP inside
// one 3-hour interval. (user_id, period_start) is unique so a flush
// replayed for the same interval can never double-credit.
type XpIntervalEntry struct {
	bun.BaseModel `bun:"table:xp_interval_entries,alias:xie"`

	ID          int64     `bun:"id,pk,autoincrement"`
	UserID      int64     `bun:"user_id,notnull,unique:uq_user_xp_interval"`
	PeriodStart time.Time `bun:"period_start,notnull,unique:uq_user_xp_interval"`
	PeriodEnd   time.Time `bun:"period_end,notnull"`
	XP          int64     `bun:"xp,notnull,default:0"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
