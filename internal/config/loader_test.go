package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/db"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "visibility.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults when the file is missing", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)

		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, 8080, cfg.HTTP.Port)
		assert.Equal(t, db.DriverPostgres, cfg.Database.Driver)
		assert.Equal(t, 15.0, cfg.Scoring.RecencyHalfLifeDays)
		assert.Equal(t, 30.0, cfg.Scoring.RecencyWindowDays)
		assert.Equal(t, 10.0, cfg.Scoring.PositionDecayRange)
		assert.Equal(t, 10*time.Minute, cfg.Competitors.CacheTTL)
		assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
		require.Len(t, cfg.Jobs, 4)
		assert.Equal(t, Job{Enabled: true, Schedule: "0 3 * * *"}, cfg.Jobs[JobVisibilityScore])
		assert.Equal(t, "30 3 * * *", cfg.Jobs[JobCompetitorRefresh].Schedule)
		assert.False(t, cfg.Tracing.Enabled)
	})

	t.Run("File values override defaults", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), `
database:
  driver: sqlite3
  path: /tmp/v.db
scoring:
  recency_half_life_days: 7
urls:
  keep_query_params: [id, page]
competitors:
  cache_ttl: 30s
jobs:
  daily-summary:
    enabled: false
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, db.DriverSQLite, cfg.Database.Driver)
		assert.Equal(t, "/tmp/v.db", cfg.Database.Path)
		assert.Equal(t, 7.0, cfg.Scoring.RecencyHalfLifeDays)
		assert.Equal(t, 30.0, cfg.Scoring.RecencyWindowDays)
		assert.Equal(t, []string{"id", "page"}, cfg.URLs.KeepQueryParams)
		assert.Equal(t, 30*time.Second, cfg.Competitors.CacheTTL)
		assert.False(t, cfg.Jobs[JobDailySummary].Enabled)
		assert.True(t, cfg.Jobs[JobVisibilityScore].Enabled)
	})

	t.Run("Environment variable override", func(t *testing.T) {
		t.Setenv("VISIBILITY_SCORING_POSITION_DECAY_RANGE", "5")
		t.Setenv("VISIBILITY_HTTP_PORT", "9090")
		t.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 5.0, cfg.Scoring.PositionDecayRange)
		assert.Equal(t, 9090, cfg.HTTP.Port)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("PostgreSQL configuration", func(t *testing.T) {
		t.Setenv("POSTGRES_HOST", "testhost")
		t.Setenv("POSTGRES_PORT", "54321")
		t.Setenv("POSTGRES_USER", "testuser")
		t.Setenv("POSTGRES_PASSWORD", "testpass")
		t.Setenv("POSTGRES_DB", "testdb")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "testhost", cfg.Database.Host)
		assert.Equal(t, 54321, cfg.Database.Port)
		assert.Equal(t, "testuser", cfg.Database.User)
		assert.Equal(t, "testpass", cfg.Database.Password)
		assert.Equal(t, "testdb", cfg.Database.Database)
	})

	t.Run("Secrets from the environment", func(t *testing.T) {
		t.Setenv("REDIS_URL", "redis://cache:6379/1")
		t.Setenv("CRON_SECRET", "s3cret")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
		assert.Equal(t, "s3cret", cfg.CronSecret)
	})

	t.Run("Invalid scoring parameters", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "scoring:\n  position_decay_range: 0\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scoring.position_decay_range")
	})

	t.Run("Unsupported driver", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "database:\n  driver: mysql\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mysql")
	})

	t.Run("Malformed file", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "scoring: [unclosed\n")
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestConfigYAMLOmitsSecrets(t *testing.T) {
	t.Setenv("POSTGRES_PASSWORD", "hunter2")
	t.Setenv("CRON_SECRET", "s3cret")
	t.Setenv("REDIS_URL", "redis://:pw@cache:6379")

	cfg, err := Load("")
	require.NoError(t, err)

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
	assert.NotContains(t, string(out), "s3cret")
	assert.NotContains(t, string(out), "pw@cache")

	var back map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Contains(t, back, "scoring")
	assert.Contains(t, back, "jobs")
}

func TestPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, DefaultPath, Path())
	t.Setenv("CONFIG_PATH", "/etc/visibility.yaml")
	assert.Equal(t, "/etc/visibility.yaml", Path())
}

func TestManagerReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "scoring:\n  recency_half_life_days: 15\n")

	m, err := NewManager(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 15.0, m.Current().Scoring.RecencyHalfLifeDays)

	var seen atomic.Value
	m.RegisterHandler(func(e ChangeEvent) error {
		seen.Store(e.Config.Scoring.RecencyHalfLifeDays)
		return nil
	})

	writeConfig(t, dir, "scoring:\n  recency_half_life_days: 20\n")
	require.NoError(t, m.Reload())
	assert.Equal(t, 20.0, m.Current().Scoring.RecencyHalfLifeDays)
	assert.Equal(t, 20.0, seen.Load())

	// an invalid file keeps the previous configuration
	writeConfig(t, dir, "scoring:\n  recency_half_life_days: -1\n")
	assert.Error(t, m.Reload())
	assert.Equal(t, 20.0, m.Current().Scoring.RecencyHalfLifeDays)
}

func TestManagerWatchesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "scoring:\n  recency_window_days: 30\n")

	m, err := NewManager(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	m.debounce = time.Millisecond

	var reloads atomic.Int32
	m.RegisterHandler(func(e ChangeEvent) error {
		if e.Config.Scoring.RecencyWindowDays == 45 {
			reloads.Add(1)
		}
		return nil
	})

	require.NoError(t, m.Start(t.Context()))
	defer m.Stop()

	writeConfig(t, dir, "scoring:\n  recency_window_days: 45\n")
	require.Eventually(t, func() bool { return reloads.Load() > 0 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 45.0, m.Current().Scoring.RecencyWindowDays)
}

func TestRedisOptions(t *testing.T) {
	opts, err := RedisConfig{URL: "redis://:pw@cache:6380/2", Addr: "ignored:1"}.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)

	opts, err = RedisConfig{Addr: "localhost:6379", DB: 1}.Options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 1, opts.DB)

	_, err = RedisConfig{URL: "http://nope"}.Options()
	assert.Error(t, err)
	_, err = RedisConfig{}.Options()
	assert.Error(t, err)
}
