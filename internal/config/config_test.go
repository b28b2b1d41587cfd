// Package config_test tests the configuration loading for the
// audiobook-service.
package config_test

import (
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingolou/audiobook-service/internal/config"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[nats]
url = "nats://127.0.0.1:4222"
chapter_synthesis_subject = "audiobook.chapter.synthesize"
story_combine_subject = "audiobook.story.combine"
progress_subject = "audiobook.chapter.progress"
artifact_bucket = "AUDIOBOOK_ARTIFACTS"

[synthesis]
service_url = "https://api.elevenlabs.io"
api_key = "test-key"
model_id = "eleven_multilingual_v2"
output_format = "pcm_44100"
default_language = "de"
timeout_seconds = 120
workers = 4
max_attempts = 3
retry_backoff_ms = 500

[audio]
scene_seconds = 1.0
sfx_seconds = 0.3
performance_seconds = 0.5
mix_headroom = 0.7

[paths]
base_logs_dir = "/var/log/audiobook-service"
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "audiobook.chapter.synthesize", cfg.NATS.ChapterSynthesisSubject)
	assert.Equal(t, "audiobook.story.combine", cfg.NATS.StoryCombineSubject)
	assert.Equal(t, "audiobook.chapter.progress", cfg.NATS.ProgressSubject)
	assert.Equal(t, "AUDIOBOOK_ARTIFACTS", cfg.NATS.ArtifactBucket)
	assert.Equal(t, "https://api.elevenlabs.io", cfg.Synthesis.ServiceURL)
	assert.Equal(t, "test-key", cfg.Synthesis.APIKey)
	assert.Equal(t, "eleven_multilingual_v2", cfg.Synthesis.ModelID)
	assert.Equal(t, "pcm_44100", cfg.Synthesis.OutputFormat)
	assert.Equal(t, "de", cfg.Synthesis.DefaultLanguage)
	assert.Equal(t, 4, cfg.Synthesis.Workers)
	assert.Equal(t, 3, cfg.Synthesis.MaxAttempts)
	assert.InEpsilon(t, 1.0, cfg.Audio.SceneSeconds, 0.001)
	assert.InEpsilon(t, 0.3, cfg.Audio.SFXSeconds, 0.001)
	assert.InEpsilon(t, 0.5, cfg.Audio.PerformanceSeconds, 0.001)
	assert.InEpsilon(t, 0.7, cfg.Audio.MixHeadroom, 0.001)
	assert.Equal(t, "/var/log/audiobook-service", cfg.Paths.BaseLogsDir)
}

func TestSynthesisConfigDurations(t *testing.T) {
	t.Parallel()

	cfg := config.SynthesisConfig{
		ServiceURL:        "https://api.elevenlabs.io",
		APIKey:            "test-key",
		ModelID:           "eleven_multilingual_v2",
		OutputFormat:      "pcm_44100",
		DefaultLanguage:   "",
		TimeoutSeconds:    120,
		Workers:           4,
		MaxAttempts:       3,
		RetryBackoffMilli: 500,
	}

	assert.Equal(t, 2*time.Minute, cfg.Timeout())
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoff())
}
