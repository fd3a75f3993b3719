package refreshmarketbenchmarks

import (
	"time"

	"feed-workers/internal/common/config"
)

type Config struct {
	Timeout time.Duration
	// Concurrency bounds the categories computed at once.
	Concurrency int
}

func LoadConfig(cfg *config.Config) *Config {
	return &Config{
		Timeout:     config.GetDuration(config.GetWorkerConfig(cfg, TaskType).Timeout),
		Concurrency: 4,
	}
}
