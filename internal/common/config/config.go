// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Feed          FeedConfig              `mapstructure:"feed"`
	Cache         CacheConfig             `mapstructure:"cache"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
	Alerts        AlertsConfig            `mapstructure:"alerts"`
	Server        ServerConfig            `mapstructure:"server"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
	// ListingsIndex holds one document per listing with category and budget_max.
	ListingsIndex string `mapstructure:"listings_index"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// --- Feed ranking ---

type FeedConfig struct {
	SponsoredInterval      int     `mapstructure:"sponsored_interval"`
	SponsoredLimit         int     `mapstructure:"sponsored_limit"`
	DefaultPageSize        int     `mapstructure:"default_page_size"`
	MaxPageSize            int     `mapstructure:"max_page_size"`
	FreshnessHalfLifeHours float64 `mapstructure:"freshness_half_life_hours"`
	SeenTTLHours           int     `mapstructure:"seen_ttl_hours"`
	ProfileCacheTTL        int     `mapstructure:"profile_cache_ttl"` // milliseconds
	// BenchmarkQPS bounds benchmark queries per second during a refresh.
	BenchmarkQPS float64 `mapstructure:"benchmark_qps"`
}

func (f FeedConfig) HalfLife() time.Duration {
	return time.Duration(f.FreshnessHalfLifeHours * float64(time.Hour))
}

func (f FeedConfig) SeenTTL() time.Duration {
	return time.Duration(f.SeenTTLHours) * time.Hour
}

// --- Result cache ---

type CacheConfig struct {
	MaxSizeMB           float64 `mapstructure:"max_size_mb"`
	DefaultTTL          int     `mapstructure:"default_ttl"`          // milliseconds
	MaintenanceInterval int     `mapstructure:"maintenance_interval"` // milliseconds
	OptimizeInterval    int     `mapstructure:"optimize_interval"`    // milliseconds, 0 disables
	EvictionThreshold   float64 `mapstructure:"eviction_threshold"`
	OptimizeThreshold   float64 `mapstructure:"optimize_threshold"`
	// nil means enabled
	CompoundTTLEscalation *bool `mapstructure:"compound_ttl_escalation"`
}

func (c CacheConfig) CompoundEscalation() bool {
	return c.CompoundTTLEscalation == nil || *c.CompoundTTLEscalation
}

// --- Observability and alerting ---

type ObservabilityConfig struct {
	ServiceName    string  `mapstructure:"service_name"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

type AlertsConfig struct {
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		Region   string `mapstructure:"region"`
		TopicARN string `mapstructure:"topic_arn"`
		// Cooldown between two alerts of the same kind, milliseconds.
		Cooldown int `mapstructure:"cooldown"`
	} `mapstructure:"sns"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}
