package domain

import (
	"fmt"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `koanf:"server" json:"server"`

	// Component configurations
	Repository RepositoryConfig `koanf:"repository" json:"repository"`
	Cache      CacheConfig      `koanf:"cache" json:"cache"`
	EventBus   EventBusConfig   `koanf:"event_bus" json:"eventBus"`

	// Scoring
	Engine  EngineConfig  `koanf:"engine" json:"engine"`
	Scoring ScoringConfig `koanf:"scoring" json:"scoring"`

	// RulesFile is an optional YAML seed of rules, watched for changes.
	RulesFile string `koanf:"rules_file" json:"rulesFile"`

	// Observability
	Logging LoggingConfig `koanf:"logging" json:"logging"`
	Tracing TracingConfig `koanf:"tracing" json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `koanf:"host" json:"host"`
	Port         int    `koanf:"port" json:"port"`
	ReadTimeout  int    `koanf:"read_timeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `koanf:"write_timeout" json:"writeTimeout"` // seconds
}

// EngineConfig tunes the scoring engine.
type EngineConfig struct {
	// StoreTimeout bounds each Store and Notifier call. Scoring itself is
	// never bounded.
	StoreTimeout time.Duration `koanf:"store_timeout" json:"storeTimeout"`

	// Timezone is the IANA zone used for hour, weekday and daily counters.
	Timezone string `koanf:"timezone" json:"timezone"`

	// DevelopmentMode disables the private address check.
	DevelopmentMode bool `koanf:"development_mode" json:"developmentMode"`

	LearningRate float64       `koanf:"learning_rate" json:"learningRate"`
	History      HistoryBounds `koanf:"history" json:"history"`

	// WorkerShards is the number of ordered queues used by the async worker.
	WorkerShards    int `koanf:"worker_shards" json:"workerShards"`
	WorkerQueueSize int `koanf:"worker_queue_size" json:"workerQueueSize"`
}

// Location resolves Timezone, falling back to UTC when it is empty.
func (c EngineConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("engine timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ScoringConfig holds the decision ladder and extractor weights.
type ScoringConfig struct {
	Thresholds Thresholds       `koanf:"thresholds" json:"thresholds"`
	Weights    IndicatorWeights `koanf:"weights" json:"weights"`
}

// Validate rejects a ladder that is out of order or out of range.
func (c ScoringConfig) Validate() error {
	t := c.Thresholds
	if t.Flag < 0 || t.Block > 1 {
		return fmt.Errorf("%w: thresholds must lie within [0,1]", ErrInvalidInput)
	}
	if !(t.Flag <= t.ManualReview && t.ManualReview <= t.Block) {
		return fmt.Errorf("%w: thresholds must satisfy flag <= manual_review <= block", ErrInvalidInput)
	}
	return nil
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" json:"level"`   // debug, info, warn, error
	Format string `koanf:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `koanf:"enabled" json:"enabled"`
	ServiceName string `koanf:"service_name" json:"serviceName"`
}

// DefaultConfig returns a single node configuration: SQLite, in-memory
// cache and channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ProfileTTL:   time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Engine: EngineConfig{
			StoreTimeout:    200 * time.Millisecond,
			Timezone:        "UTC",
			LearningRate:    0.1,
			History:         DefaultHistoryBounds(),
			WorkerShards:    8,
			WorkerQueueSize: 256,
		},
		Scoring: ScoringConfig{
			Thresholds: DefaultThresholds(),
			Weights:    DefaultIndicatorWeights(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}
