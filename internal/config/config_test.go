package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yourusername/exam-pool/internal/pkg/errors"
	"github.com/yourusername/exam-pool/internal/service/poolcache"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func setDatabaseEnv(t *testing.T) {
	t.Setenv("DATABASE_HOST", "localhost")
	t.Setenv("DATABASE_USER", "exam")
	t.Setenv("DATABASE_DBNAME", "exam_pool")
}

func TestLoad_Defaults(t *testing.T) {
	setDatabaseEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err, "отсутствующий файл не ошибка")

	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, "auto", cfg.Candidates.CacheBackend)
	assert.Equal(t, "none", cfg.Telemetry.MetricsExporter)
	assert.False(t, cfg.Redis.IsConfigured())

	engineCfg := cfg.Pool.EngineConfig(cfg.Telemetry)
	assert.Equal(t, *poolcache.DefaultConfig(), *engineCfg, "умолчания совпадают с умолчаниями движка")
}

func TestLoad_FileAndEnv(t *testing.T) {
	setDatabaseEnv(t)
	t.Setenv("DATABASE_PORT", "6543")
	path := writeConfig(t, `
database:
  port: "5433"
redis:
  addrs: ["redis:6379"]
pool:
  shared_pool_ttl: 2h
  max_repetitions: 5
candidates:
  cache_backend: redis
worker:
  warmup_subjects: [1, 2, 3]
  sweep_interval: 30s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "6543", cfg.Database.Port, "переменная окружения важнее файла")
	assert.Equal(t, 2*time.Hour, cfg.Pool.SharedPoolTTL)
	assert.Equal(t, 5, cfg.Pool.MaxRepetitions)
	assert.Equal(t, []uint{1, 2, 3}, cfg.Worker.WarmupSubjects)
	assert.Equal(t, 30*time.Second, cfg.Worker.SweepInterval)
	assert.True(t, cfg.Redis.IsConfigured())
	assert.Equal(t, poolcache.DefaultUniquePoolTTL, cfg.Pool.UniquePoolTTL)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "неизвестный экспортер", body: "telemetry:\n  metrics_exporter: prometheus\n"},
		{name: "redis без адресов", body: "candidates:\n  cache_backend: redis\n"},
		{name: "неизвестный бэкенд кеша", body: "candidates:\n  cache_backend: memcached\n"},
		{name: "почта без ключа", body: "email:\n  enabled: true\n  from: a@b.c\n"},
		{name: "множитель меньше двух", body: "pool:\n  pool_size_multiplier: 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setDatabaseEnv(t)
			_, err := Load(writeConfig(t, tt.body))
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestLoad_MissingDatabase(t *testing.T) {
	_, err := Load("")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestDatabaseConfig_ConnectionStrings(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "n", SSLMode: "disable"}

	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.PostgresConnectionString())
	assert.Equal(t, "postgres://u:p@db:5432/n?sslmode=disable", d.PostgresURL())
}
