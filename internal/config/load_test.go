package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, int64(10<<20), cfg.Server.MaxUploadBytes)
	assert.Equal(t, "./logs/api.log", cfg.Log.File)
	assert.Equal(t, "./uploads", cfg.Storage.UploadDir)
	assert.Equal(t, "./output/visualizations", cfg.Storage.VisualizationDir)
	assert.Equal(t, "./output/cropped", cfg.Storage.CroppedDir)
	assert.Equal(t, 0.95, cfg.Detector.ConfidenceThreshold)
	assert.Equal(t, "https://hijab-model.onrender.com/predict", cfg.Classifier.URL)
	assert.Equal(t, 60*time.Second, cfg.Classifier.Timeout)
	assert.Equal(t, 25.0, cfg.Blur.Radius)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 64, cfg.Pipeline.QueueSize)
	assert.True(t, cfg.Pipeline.Visualize)
	assert.Equal(t, "memory", cfg.Tasks.Store)
	assert.Equal(t, time.Hour, cfg.Tasks.Retention)
	assert.Equal(t, 5*time.Minute, cfg.Tasks.SweepInterval)
	assert.False(t, cfg.UsesRedis())
	assert.Empty(t, cfg.Auth.JWTSecret)
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HIJAB_SERVER_ADDR", ":9090")
	t.Setenv("HIJAB_PIPELINE_WORKERS", "8")
	t.Setenv("HIJAB_TASKS_STORE", "redis")
	t.Setenv("HIJAB_REDIS_ADDR", "localhost:6379")
	t.Setenv("HIJAB_CLASSIFIER_TIMEOUT", "5s")
	t.Setenv("HIJAB_PIPELINE_VISUALIZE", "false")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.True(t, cfg.UsesRedis())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Second, cfg.Classifier.Timeout)
	assert.False(t, cfg.Pipeline.Visualize)
}

func TestLoadFromFileWithEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "server:\n  addr: \":7070\"\nblur:\n  radius: 12\ndetector:\n  confidence_threshold: 0.8\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("HIJAB_BLUR_RADIUS", "30")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 30.0, cfg.Blur.Radius, "environment wins over the file")
	assert.Equal(t, 0.8, cfg.PipelineConfig().ConfidenceThreshold)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadValidationErrors(t *testing.T) {
	testCases := []struct {
		name    string
		envVars map[string]string
	}{
		{"unknown store", map[string]string{"HIJAB_TASKS_STORE": "etcd"}},
		{"redis without address", map[string]string{"HIJAB_TASKS_STORE": "redis"}},
		{"threshold above one", map[string]string{"HIJAB_DETECTOR_CONFIDENCE_THRESHOLD": "1.5"}},
		{"no workers", map[string]string{"HIJAB_PIPELINE_WORKERS": "0"}},
		{"invalid log level", map[string]string{"HIJAB_LOG_LEVEL": "verbose"}},
		{"invalid classifier url", map[string]string{"HIJAB_CLASSIFIER_URL": "not a url"}},
		{"max below min size", map[string]string{"HIJAB_DETECTOR_MAX_SIZE": "10"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.envVars {
				t.Setenv(k, v)
			}

			_, err := Load("")

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestDetectorPigoConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	pigoCfg := cfg.Detector.PigoConfig()
	assert.Equal(t, "cascade/facefinder", pigoCfg.CascadePath)
	assert.Equal(t, 20, pigoCfg.MinSize)
	assert.Equal(t, 1.1, pigoCfg.ScaleFactor)
	assert.Equal(t, 5.0, pigoCfg.QualityAt95)
}
