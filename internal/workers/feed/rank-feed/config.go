package rankfeed

import (
	"time"

	"feed-workers/internal/common/config"
)

type Config struct {
	Timeout           time.Duration
	DefaultPageSize   int
	MaxPageSize       int
	SponsoredLimit    int
	SponsoredInterval int
}

func LoadConfig(cfg *config.Config) *Config {
	return &Config{
		Timeout:           config.GetDuration(config.GetWorkerConfig(cfg, TaskType).Timeout),
		DefaultPageSize:   cfg.Feed.DefaultPageSize,
		MaxPageSize:       cfg.Feed.MaxPageSize,
		SponsoredLimit:    cfg.Feed.SponsoredLimit,
		SponsoredInterval: cfg.Feed.SponsoredInterval,
	}
}

// pageSize applies the default and the upper bound to a requested limit.
func (c *Config) pageSize(requested int) int {
	size := requested
	if size <= 0 {
		size = c.DefaultPageSize
	}
	if c.MaxPageSize > 0 && size > c.MaxPageSize {
		size = c.MaxPageSize
	}
	if size <= 0 {
		size = 20
	}
	return size
}
