// Package config loads the runtime configuration (TOML) and the game content
// tables (YAML) the simulation is driven by.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/signalsfoundry/idle-engine/internal/logging"
)

// ErrInvalidConfig reports a configuration that cannot drive a simulation.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Clock      ClockConfig      `toml:"clock"`
	Background BackgroundConfig `toml:"background"`
	Pool       PoolConfig       `toml:"pool"`
	AI         AIConfig         `toml:"ai"`
	Snapshot   SnapshotConfig   `toml:"snapshot"`
	Validation ValidationConfig `toml:"validation"`
	Logging    logging.Config   `toml:"logging"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Tracing    TracingConfig    `toml:"tracing"`
	Bridge     BridgeConfig     `toml:"bridge"`
	Baseline   BaselineConfig   `toml:"baseline"`
	Content    ContentConfig    `toml:"content"`
}

type ClockConfig struct {
	StepInterval     time.Duration `toml:"step_interval"`
	MaxFrame         time.Duration `toml:"max_frame"`
	MaxStepsPerFrame int           `toml:"max_steps_per_frame"`
	FrameInterval    time.Duration `toml:"frame_interval"`
	ReportInterval   time.Duration `toml:"report_interval"`
}

type BackgroundConfig struct {
	Interval time.Duration `toml:"interval"`
}

type PoolConfig struct {
	InitialSize   int `toml:"initial_size"`
	MaxSize       int `toml:"max_size"`
	GrowthFactor  int `toml:"growth_factor"`
	MaxGrowthSize int `toml:"max_growth_size"`
}

type AIConfig struct {
	MaxUpdatesPerFrame int           `toml:"max_updates_per_frame"`
	DeathLinger        time.Duration `toml:"death_linger"`
}

type SnapshotConfig struct {
	Enabled  bool          `toml:"enabled"`
	Interval time.Duration `toml:"interval"`
}

type ValidationConfig struct {
	MaxOffline        time.Duration `toml:"max_offline"`
	MessagesPerSecond int           `toml:"messages_per_second"`
	OfflineChunk      time.Duration `toml:"offline_chunk"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type TracingConfig struct {
	Enabled     bool    `toml:"enabled"`
	ServiceName string  `toml:"service_name"`
	Exporter    string  `toml:"exporter"` // stdout | otlp
	Endpoint    string  `toml:"endpoint"`
	SampleRatio float64 `toml:"sample_ratio"`
}

type BridgeConfig struct {
	Addr      string `toml:"addr"`
	InboxSize int    `toml:"inbox_size"`
}

type BaselineConfig struct {
	Path string `toml:"path"`
}

type ContentConfig struct {
	// Path overrides the content search order when set.
	Path string `toml:"path"`
}

// Load reads a TOML file over Defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		Clock: ClockConfig{
			StepInterval:     16 * time.Millisecond,
			MaxFrame:         250 * time.Millisecond,
			MaxStepsPerFrame: 8,
			FrameInterval:    16 * time.Millisecond,
			ReportInterval:   250 * time.Millisecond,
		},
		Background: BackgroundConfig{
			Interval: 500 * time.Millisecond,
		},
		Pool: PoolConfig{
			InitialSize:   64,
			MaxSize:       1024,
			GrowthFactor:  2,
			MaxGrowthSize: 256,
		},
		AI: AIConfig{
			MaxUpdatesPerFrame: 512,
			DeathLinger:        600 * time.Millisecond,
		},
		Snapshot: SnapshotConfig{
			Enabled:  true,
			Interval: time.Second,
		},
		Validation: ValidationConfig{
			MaxOffline:        8 * time.Hour,
			MessagesPerSecond: 120,
			OfflineChunk:      500 * time.Millisecond,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Tracing: TracingConfig{
			ServiceName: "idlesim",
			Exporter:    "stdout",
			SampleRatio: 1,
		},
		Bridge: BridgeConfig{
			Addr:      ":7070",
			InboxSize: 64,
		},
		Baseline: BaselineConfig{
			Path: "idlesim-baselines.db",
		},
	}
}

// Validate rejects non-positive intervals and inconsistent pool sizing.
func (c *Config) Validate() error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"clock.step_interval", c.Clock.StepInterval},
		{"clock.max_frame", c.Clock.MaxFrame},
		{"clock.frame_interval", c.Clock.FrameInterval},
		{"clock.report_interval", c.Clock.ReportInterval},
		{"background.interval", c.Background.Interval},
		{"snapshot.interval", c.Snapshot.Interval},
		{"validation.max_offline", c.Validation.MaxOffline},
		{"validation.offline_chunk", c.Validation.OfflineChunk},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, d.name)
		}
	}
	if c.Clock.StepInterval%time.Millisecond != 0 {
		return fmt.Errorf("%w: clock.step_interval must be whole milliseconds", ErrInvalidConfig)
	}
	if c.Clock.MaxStepsPerFrame <= 0 {
		return fmt.Errorf("%w: clock.max_steps_per_frame must be positive", ErrInvalidConfig)
	}
	if c.Clock.MaxFrame < c.Clock.StepInterval {
		return fmt.Errorf("%w: clock.max_frame shorter than one step", ErrInvalidConfig)
	}
	if c.Pool.InitialSize <= 0 || c.Pool.MaxSize < c.Pool.InitialSize {
		return fmt.Errorf("%w: pool sizes must satisfy 0 < initial_size <= max_size", ErrInvalidConfig)
	}
	if c.Pool.GrowthFactor < 2 || c.Pool.MaxGrowthSize <= 0 {
		return fmt.Errorf("%w: pool growth_factor must be >= 2 and max_growth_size positive", ErrInvalidConfig)
	}
	if c.AI.MaxUpdatesPerFrame <= 0 {
		return fmt.Errorf("%w: ai.max_updates_per_frame must be positive", ErrInvalidConfig)
	}
	if c.AI.DeathLinger < 0 {
		return fmt.Errorf("%w: ai.death_linger must not be negative", ErrInvalidConfig)
	}
	if c.Validation.MessagesPerSecond < 0 {
		return fmt.Errorf("%w: validation.messages_per_second must not be negative", ErrInvalidConfig)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("%w: tracing.sample_ratio must be within [0,1]", ErrInvalidConfig)
	}
	return nil
}
