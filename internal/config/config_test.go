package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9091
  host: "127.0.0.1"

queue:
  workers: 5
  maxAttempts: 4
  retryBackoff: 250ms

inference:
  command: /opt/pose/worker
  defaults:
    architecture: ResNet50
    inputResolution: 513

webhook:
  retryDelays: ["2s", "10s"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9091, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 5, cfg.Queue.Workers)
	assert.Equal(t, 4, cfg.Queue.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.RetryBackoff)
	assert.Equal(t, "/opt/pose/worker", cfg.Inference.Command)
	assert.Equal(t, models.ArchitectureResNet50, cfg.Inference.Defaults.Architecture)
	assert.Equal(t, 513, cfg.Inference.Defaults.InputResolution)
	// untouched defaults survive a partial section
	assert.Equal(t, models.DefaultModelConfig().ScoreThreshold, cfg.Inference.Defaults.ScoreThreshold)
	assert.Equal(t, []time.Duration{2 * time.Second, 10 * time.Second}, cfg.Webhook.RetryDelays)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Queue.Workers)
	assert.Equal(t, models.DefaultMaxAttempts, cfg.Queue.MaxAttempts)
	assert.Equal(t, time.Duration(0), cfg.Queue.RetryBackoff)
	assert.Equal(t, "ffmpeg", cfg.Transcoder.FFmpegPath)
	assert.Equal(t, "ffprobe", cfg.Transcoder.FFprobePath)
	assert.Equal(t, 2*time.Second, cfg.Transcoder.ThumbnailOffset)
	assert.Equal(t, 10, cfg.Streaming.ProgressInterval)
	assert.Equal(t, models.DefaultModelConfig(), cfg.Inference.Defaults)
	assert.Len(t, cfg.Webhook.RetryDelays, 3)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("POSEFLOW_QUEUE_WORKERS", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Queue.Workers)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero workers", "queue:\n  workers: 0\n"},
		{"zero attempts", "queue:\n  maxAttempts: 0\n"},
		{"unknown architecture", "inference:\n  defaults:\n    architecture: VGG\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	assert.Error(t, err)
}

func TestWatchReportsChanges(t *testing.T) {
	path := writeConfig(t, "inference:\n  defaults:\n    scoreThreshold: 0.5\n")

	changes := make(chan *Config, 16)
	require.NoError(t, Watch(path, func(c *Config) {
		select {
		case changes <- c:
		default:
		}
	}, nil))

	require.NoError(t, os.WriteFile(path, []byte("inference:\n  defaults:\n    scoreThreshold: 0.8\n"), 0644))

	// a single write may surface as several events, the last one carries the full file
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Inference.Defaults.ScoreThreshold == 0.8 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for config change")
		}
	}
}
