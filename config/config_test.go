package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/checkpoints"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/training"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/preprocessing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "cpu", cfg.Device)
	assert.Equal(t, 10, cfg.Data.BatchSize)
	assert.Equal(t, 224, cfg.Data.ImageSize)
	assert.Equal(t, "imagenet", cfg.Data.Normalization)
	assert.True(t, cfg.Data.Shuffle.Train)
	assert.False(t, cfg.Data.Shuffle.Val)
	assert.Equal(t, 2, cfg.Model.NumClasses)
	assert.Equal(t, "proto", cfg.Train.CheckpointFormat)
	assert.Equal(t, "every-n", cfg.Train.LogPolicy)
}

func TestLoad(t *testing.T) {
	t.Run("defaults only", func(t *testing.T) {
		cfg, err := Load(viper.New())
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("file and env", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "liveness.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
data:
  batch_size: 4
  normalization: unit-range
optim:
  lr: 0.01
  scheduler:
    enabled: true
    step_size: 3
train:
  log_policy: skip-every-n
  checkpoint_format: json
`), 0o644))
		t.Setenv("LIVENESS_TRAIN_EPOCHS", "7")

		v := viper.New()
		v.SetConfigFile(path)
		cfg, err := Load(v)
		require.NoError(t, err)

		assert.Equal(t, 4, cfg.Data.BatchSize)
		assert.Equal(t, 224, cfg.Data.ImageSize)
		assert.Equal(t, 7, cfg.Train.Epochs)
		assert.True(t, cfg.Optim.Scheduler.Enabled)
		assert.Equal(t, 3, cfg.Optim.Scheduler.StepSize)
		assert.InDelta(t, 0.1, cfg.Optim.Scheduler.Gamma, 1e-12)

		dc, err := cfg.DataConfig()
		require.NoError(t, err)
		assert.Equal(t, preprocessing.UnitRange, dc.Normalization)
		assert.Equal(t, 4, dc.BatchSize)

		rc, err := cfg.RunConfig()
		require.NoError(t, err)
		assert.Equal(t, training.SkipEveryN, rc.LogPolicy)
		assert.Equal(t, checkpoints.FormatJSON, rc.CheckpointFormat)
		assert.InDelta(t, 0.01, rc.Optim.LearningRate, 1e-12)
		assert.True(t, rc.Scheduler.Enabled)
		assert.True(t, rc.Scheduler.Advance)
	})

	t.Run("missing file", func(t *testing.T) {
		v := viper.New()
		v.SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := Load(v)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown device", func(c *Config) { c.Device = "tpu" }},
		{"zero batch", func(c *Config) { c.Data.BatchSize = 0 }},
		{"zero image size", func(c *Config) { c.Data.ImageSize = 0 }},
		{"zero workers", func(c *Config) { c.Data.NumWorkers = 0 }},
		{"normalization", func(c *Config) { c.Data.Normalization = "zscore" }},
		{"checkpoint format", func(c *Config) { c.Train.CheckpointFormat = "pickle" }},
		{"log policy", func(c *Config) { c.Train.LogPolicy = "never" }},
		{"epochs", func(c *Config) { c.Train.Epochs = 0 }},
		{"weight file", func(c *Config) { c.Train.WeightFile = "" }},
		{"negative lr", func(c *Config) { c.Optim.LR = -1 }},
		{"positive class", func(c *Config) { c.Model.PositiveClass = 5 }},
		{"scheduler gamma", func(c *Config) {
			c.Optim.Scheduler.Enabled = true
			c.Optim.Scheduler.Gamma = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDump(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Default().Dump(&buf))
	assert.Contains(t, buf.String(), "train_path: data/train")

	var back Config
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, Default(), back)
}
