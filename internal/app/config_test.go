package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/gatekeeper/internal/cache"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "./data/gatekeeper.sqlite", cfg.Database.Path)
	require.False(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, "127.0.0.1:6379", cfg.Cache.Redis.Address)
	require.Equal(t, 5*time.Second, cfg.Cache.Redis.Timeout)
	require.Equal(t, 5*time.Minute, cfg.Authz.EffectiveTTL)
	require.True(t, cfg.Maintenance.Enabled)
	require.Equal(t, 90, cfg.Maintenance.AuditRetentionDays)
	require.Equal(t, 30, cfg.Maintenance.OverrideRetentionDays)
	require.Equal(t, "@hourly", cfg.Maintenance.OverrideSchedule)
	require.Equal(t, "@daily", cfg.Maintenance.AuditSchedule)
}

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Log.Level)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)
	require.Equal(t, "gatekeeper", cfg.Database.Postgres.Database)
	require.Equal(t, "gk", cfg.Database.Postgres.Username)
	require.Equal(t, "secret", cfg.Database.Postgres.Password)

	require.True(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, "redis.example.com:6380", cfg.Cache.Redis.Address)
	require.Equal(t, 2, cfg.Cache.Redis.DB)
	require.True(t, cfg.Cache.Redis.TLS)
	require.Equal(t, 3*time.Second, cfg.Cache.Redis.Timeout)

	require.Equal(t, 90*time.Second, cfg.Authz.EffectiveTTL)

	require.False(t, cfg.Maintenance.Enabled)
	require.Equal(t, 30, cfg.Maintenance.AuditRetentionDays)
	require.Equal(t, 7, cfg.Maintenance.OverrideRetentionDays)
	require.Equal(t, "@every 30m", cfg.Maintenance.OverrideSchedule)
	require.Equal(t, "@weekly", cfg.Maintenance.AuditSchedule)
}

func TestRedisStoreConfigAdapter(t *testing.T) {
	cfg := CacheConfig{
		Redis: RedisCacheConfig{
			Enabled:  true,
			Address:  "redis.example.com:6379",
			Username: "user",
			Password: "pass",
			DB:       4,
			TLS:      true,
			Timeout:  2 * time.Second,
		},
	}

	require.Equal(t, cache.RedisConfig{
		Address:  "redis.example.com:6379",
		Username: "user",
		Password: "pass",
		DB:       4,
		TLS:      true,
		Timeout:  2 * time.Second,
	}, cfg.RedisStoreConfig())
}
