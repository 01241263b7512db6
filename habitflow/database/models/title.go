package models

import (
	"encoding/json"

	"github.com/uptrace/bun"
)

// Title is static reference data describing one progression tier.
type Title struct {
	bun.BaseModel `bun:"table:titles,alias:t"`

	ID              int64           `bun:"id,pk,autoincrement"`
	Code            string          `bun:"code,notnull,unique"`
	Name            string          `bun:"name,notnull"`
	LevelMin        int             `bun:"level_min,notnull"`
	LevelMax        int             `bun:"level_max,notnull"`
	Privileges      json.RawMessage `bun:"privileges,type:jsonb,default:'{}'"`
	RequiresPremium bool            `bun:"requires_premium,notnull,default:false"`
	Order           int             `bun:"ord,notnull,default:0"`
}

type TitlePrivileges struct {
	StatsDays       int `json:"stats_days"`
	DailyHabitCap   int `json:"daily_habit_cap"`
	TotalHabitCap   int `json:"total_habit_cap"`
	PublicHabitCap  int `json:"public_habit_cap"`
}

// DecodePrivileges returns the privilege bag with defaults applied.
func (t *Title) DecodePrivileges() TitlePrivileges {
	p := TitlePrivileges{StatsDays: 30}
	if len(t.Privileges) > 0 {
		_ = json.Unmarshal(t.Privileges, &p)
	}
	if p.StatsDays < 1 {
		p.StatsDays = 30
	}
	return p
}
