// Package config provides the configuration structure for the
// audiobook-service.
package config

import (
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS transport and storage.
type NATSConfig struct {
	URL                     string `toml:"url"`
	ChapterSynthesisSubject string `toml:"chapter_synthesis_subject"`
	StoryCombineSubject     string `toml:"story_combine_subject"`
	ProgressSubject         string `toml:"progress_subject"`
	ArtifactBucket          string `toml:"artifact_bucket"`
}

// SynthesisConfig holds the configuration for the external voice service and
// the dispatcher in front of it.
type SynthesisConfig struct {
	ServiceURL        string `toml:"service_url"`
	APIKey            string `toml:"api_key"`
	ModelID           string `toml:"model_id"`
	OutputFormat      string `toml:"output_format"`
	DefaultLanguage   string `toml:"default_language"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	Workers           int    `toml:"workers"`
	MaxAttempts       int    `toml:"max_attempts"`
	RetryBackoffMilli int    `toml:"retry_backoff_ms"`
}

// Timeout returns the per-call timeout as a duration.
func (c SynthesisConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryBackoff returns the initial retry backoff as a duration.
func (c SynthesisConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMilli) * time.Millisecond
}

// AudioConfig holds the assembler's silence defaults and the group-mix gain.
// These are tunables, not invariants; the defaults match the shipped
// product's pacing.
type AudioConfig struct {
	SceneSeconds       float64 `toml:"scene_seconds"`
	SFXSeconds         float64 `toml:"sfx_seconds"`
	PerformanceSeconds float64 `toml:"performance_seconds"`
	MixHeadroom        float64 `toml:"mix_headroom"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Synthesis SynthesisConfig `toml:"synthesis"`
	Audio     AudioConfig     `toml:"audio"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads the configuration for the audiobook-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}
