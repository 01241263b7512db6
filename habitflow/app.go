package habitflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/strivelab/habit-flow/habitflow/cache"
	"github.com/strivelab/habit-flow/habitflow/database"
	"github.com/strivelab/habit-flow/habitflow/database/repositories"
	"github.com/strivelab/habit-flow/habitflow/services"
	"github.com/strivelab/habit-flow/habitflow/xp"
)

// App wires the repositories, the XP core and the derived-progression
// services. Redis may be nil; every cache-backed path then degrades
// to its synchronous durable fallback.
type App struct {
	Cfg     Config
	DB      *database.DB
	Redis   *cache.Redis
	Version string
	Commit  string

	UserRepository     repositories.UserRepository
	HabitRepository    repositories.HabitRepository
	TitleRepository    repositories.TitleRepository
	QuestRepository    repositories.QuestRepository
	IntervalRepository repositories.XpIntervalRepository

	Counter *xp.Counter
	Buffer  *xp.PendingBuffer
	Flusher *xp.Flusher
	Awarder *xp.Awarder

	StreakService      *services.StreakService
	TitleService       *services.TitleService
	QuestService       *services.QuestService
	LeaderboardService *services.LeaderboardService
	CompletionService  *services.CompletionService
}

func New(cfg Config, version, commit string, db *database.DB, redis *cache.Redis) *App {
	a := &App{
		Cfg:     cfg,
		DB:      db,
		Redis:   redis,
		Version: version,
		Commit:  commit,
	}

	bunDB := db.BunDB()
	a.UserRepository = repositories.NewUserRepository(bunDB)
	a.HabitRepository = repositories.NewHabitRepository(bunDB)
	a.TitleRepository = repositories.NewTitleRepository(bunDB)
	a.QuestRepository = repositories.NewQuestRepository(bunDB)
	a.IntervalRepository = repositories.NewXpIntervalRepository(bunDB)

	a.TitleService = services.NewTitleService(a.TitleRepository, a.QuestRepository, a.UserRepository)
	a.StreakService = services.NewStreakService(a.HabitRepository, a.UserRepository)

	a.Counter = xp.NewCounter(redis)
	a.Buffer = xp.NewPendingBuffer(redis)
	a.Flusher = xp.NewFlusher(redis, a.Buffer, a.UserRepository, a.IntervalRepository, a.TitleService)
	a.Awarder = xp.NewAwarder(a.Counter, a.Buffer, a.Flusher, a.StreakService)

	a.QuestService = services.NewQuestService(a.QuestRepository, a.HabitRepository, a.IntervalRepository, a.Buffer, a.Awarder)
	a.LeaderboardService = services.NewLeaderboardService(a.UserRepository, a.IntervalRepository, a.Buffer, a.Flusher, a.TitleService)
	a.CompletionService = services.NewCompletionService(a.HabitRepository, a.UserRepository, a.StreakService, a.Awarder, a.QuestService)

	return a
}

// StartFlushLoop drains closed pending buckets on a fixed interval
// until ctx is cancelled. The per-cycle lock keeps concurrent workers
// from draining twice; a skipped cycle is not an error.
func (a *App) StartFlushLoop(ctx context.Context) {
	interval := time.Duration(a.Cfg.XP.FlushInterval) * time.Second
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				flushCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
				if did, err := a.Flusher.TryFlush(flushCtx, false); err != nil {
					slog.Error("Background flush failed", slog.Any("error", err))
				} else if did {
					slog.Debug("Background flush completed")
				}
				cancel()
			}
		}
	}()
	slog.Info("Flush loop started", slog.Duration("interval", interval))
}
