package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	HTTP struct {
		Port string `yaml:"port" env:"SAMPLE_HTTP_PORT"`
	} `yaml:"http"`
	Limits struct {
		Retries  int           `yaml:"retries"`
		Rate     float64       `yaml:"rate"`
		Enabled  bool          `yaml:"enabled"`
		LockWait time.Duration `yaml:"lockWait"`
	} `yaml:"limits"`
	Ignored string `yaml:"ignored" env:"-"`
}

func TestLoadConfigFromFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	body := "http:\n  port: \"9000\"\nlimits:\n  retries: 2\n  rate: 0.5\n  lockWait: 3s\nignored: keep\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("SAMPLE_HTTP_PORT", "9100")
	t.Setenv("LIMITS_ENABLED", "true")
	t.Setenv("LIMITS_LOCKWAIT", "250ms")
	t.Setenv("IGNORED", "overridden")

	var cfg sample
	require.NoError(t, LoadConfigFrom(path, &cfg))

	assert.Equal(t, "9100", cfg.HTTP.Port)
	assert.Equal(t, 2, cfg.Limits.Retries)
	assert.InDelta(t, 0.5, cfg.Limits.Rate, 1e-9)
	assert.True(t, cfg.Limits.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Limits.LockWait)
	assert.Equal(t, "keep", cfg.Ignored)
}

func TestLoadConfigRejectsNonPointer(t *testing.T) {
	var cfg sample
	require.Error(t, LoadConfigFrom("", cfg))
	require.Error(t, LoadConfigFrom("", nil))
}

func TestLoadConfigInvalidEnvValue(t *testing.T) {
	t.Setenv("LIMITS_RETRIES", "many")
	var cfg sample
	err := LoadConfigFrom("", &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIMITS_RETRIES")
}
