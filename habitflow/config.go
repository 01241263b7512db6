package habitflow

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/strivelab/habit-flow/habitflow/cache"
	"github.com/strivelab/habit-flow/habitflow/database"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.XP.FlushInterval <= 0 {
		cfg.XP.FlushInterval = 300
	}
	return &cfg, nil
}

type Config struct {
	Log   LogConfig         `toml:"log"`
	DB    database.DBConfig `toml:"db"`
	Redis cache.RedisConfig `toml:"redis"`
	XP    XPConfig          `toml:"xp"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type XPConfig struct {
	// FlushInterval is how often the background drain runs, in
	// seconds. Awards also trigger opportunistic flushes on their own.
	FlushInterval int `toml:"flush_interval"`
}
