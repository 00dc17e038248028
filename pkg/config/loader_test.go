package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/workspacekit/pkg/config"
)

type defaultsConfig struct {
	Header    string `env:"CFGTEST_HEADER" envDefault:"X-Workspace-ID"`
	GraceDays int    `env:"CFGTEST_GRACE_DAYS" envDefault:"7"`
}

type overrideConfig struct {
	Threshold int `env:"CFGTEST_THRESHOLD" envDefault:"3"`
}

type cachedConfig struct {
	Value string `env:"CFGTEST_CACHED" envDefault:"first"`
}

type requiredConfig struct {
	Secret string `env:"CFGTEST_REQUIRED_SECRET,required"`
}

func TestLoad(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		var cfg defaultsConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "X-Workspace-ID", cfg.Header)
		assert.Equal(t, 7, cfg.GraceDays)
	})

	t.Run("reads environment", func(t *testing.T) {
		t.Setenv("CFGTEST_THRESHOLD", "5")
		var cfg overrideConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, 5, cfg.Threshold)
	})

	t.Run("caches per type", func(t *testing.T) {
		var first cachedConfig
		require.NoError(t, config.Load(&first))

		t.Setenv("CFGTEST_CACHED", "second")
		var second cachedConfig
		require.NoError(t, config.Load(&second))
		assert.Equal(t, "first", second.Value)
	})

	t.Run("missing required value", func(t *testing.T) {
		var cfg requiredConfig
		err := config.Load(&cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		var cfg *defaultsConfig
		assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
	})
}

func TestMustLoadPanics(t *testing.T) {
	assert.Panics(t, func() {
		type mustConfig struct {
			Key string `env:"CFGTEST_MUST_KEY,required"`
		}
		var cfg mustConfig
		config.MustLoad(&cfg)
	})
}
