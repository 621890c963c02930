package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := load(viper.New())
		require.NoError(t, err)
		require.Equal(t, "8080", cfg.Port)
		require.Equal(t, BackendMemory, cfg.DocumentBackend)
		require.Equal(t, 15*time.Second, cfg.MutationTimeout)
		require.Equal(t, time.Minute, cfg.ProfileCacheTTL)
		require.Equal(t, "@every 30m", cfg.FollowSweepSchedule)
		require.True(t, cfg.IsDevelopment())
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("PORT", "9000")
		t.Setenv("DOCUMENT_BACKEND", "Mongo")
		t.Setenv("MONGO_URI", "mongodb://localhost:27017")
		t.Setenv("MUTATION_TIMEOUT", "3s")

		cfg, err := load(viper.New())
		require.NoError(t, err)
		require.Equal(t, "9000", cfg.Port)
		require.Equal(t, BackendMongo, cfg.DocumentBackend)
		require.Equal(t, 3*time.Second, cfg.MutationTimeout)
	})

	t.Run("backend requirements", func(t *testing.T) {
		t.Setenv("DOCUMENT_BACKEND", "postgres")
		t.Setenv("POSTGRES_CONN_STR", "postgres://localhost/livefeed")

		_, err := load(viper.New())
		require.ErrorContains(t, err, "NATS_URL")
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("DOCUMENT_BACKEND", "redis")

		_, err := load(viper.New())
		require.Error(t, err)
	})
}
