package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/yourusername/exam-pool/internal/pkg/errors"
	"github.com/yourusername/exam-pool/internal/service/poolcache"
)

// Config хранит все настройки приложения
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Candidates CandidatesConfig `mapstructure:"candidates"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Email      EmailConfig      `mapstructure:"email"`
	Log        LogConfig        `mapstructure:"log"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

// DatabaseConfig содержит настройки подключения к PostgreSQL
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           string `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	DBName         string `mapstructure:"dbname"`
	SSLMode        string `mapstructure:"sslmode"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

// RedisConfig содержит унифицированные настройки подключения к Redis.
// Поддерживает режимы: single, sentinel, cluster. Пустые адреса - Redis не используется.
type RedisConfig struct {
	// Mode: режим работы Redis ("single", "sentinel", "cluster"). По умолчанию "single".
	Mode string `mapstructure:"mode"`

	// Addrs: список адресов Redis (хост:порт). Для 'single' используется первый адрес.
	Addrs []string `mapstructure:"addrs"`

	// Addr: адрес для режима 'single', если Addrs пустой
	Addr string `mapstructure:"addr"`

	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// MasterName: имя мастер-сервера (только для "sentinel")
	MasterName string `mapstructure:"master_name"`

	MaxRetries      int `mapstructure:"max_retries"`
	MinRetryBackoff int `mapstructure:"min_retry_backoff"` // мс
	MaxRetryBackoff int `mapstructure:"max_retry_backoff"` // мс
}

// IsConfigured сообщает, задан ли хотя бы один адрес Redis
func (r *RedisConfig) IsConfigured() bool {
	return len(r.Addrs) > 0 || r.Addr != ""
}

// PoolConfig - настройки движка пулов вопросов
type PoolConfig struct {
	PoolSizeMultiplier   int           `mapstructure:"pool_size_multiplier"`
	MaxAttempts          int           `mapstructure:"max_attempts"`
	MaxAttemptOverlap    float64       `mapstructure:"max_attempt_overlap"`
	MinUniquePercentage  float64       `mapstructure:"min_unique_percentage"`
	MaxRepetitions       int           `mapstructure:"max_repetitions"`
	SharedPoolTTL        time.Duration `mapstructure:"shared_pool_ttl"`
	UniquePoolTTL        time.Duration `mapstructure:"unique_pool_ttl"`
	QuestionPoolTTL      time.Duration `mapstructure:"question_pool_ttl"`
	MaxSharedCaches      int           `mapstructure:"max_shared_caches"`
	MaxUniqueCaches      int           `mapstructure:"max_unique_caches"`
	MaxQuestionPools     int           `mapstructure:"max_question_pools"`
	HistoryInactivityTTL time.Duration `mapstructure:"history_inactivity_ttl"`
	EstimatedEntryBytes  int64         `mapstructure:"estimated_entry_bytes"`
	TopEntries           int           `mapstructure:"top_entries"`
	WarmupQuantity       int           `mapstructure:"warmup_quantity"`
}

// CandidatesConfig - кеш списков кандидатов перед запросами к БД
type CandidatesConfig struct {
	// CacheBackend: "auto" (Redis, если настроен, иначе память), "redis", "memory"
	CacheBackend    string        `mapstructure:"cache_backend"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// TelemetryConfig - метрики, отчёты и бюджет памяти кеша
type TelemetryConfig struct {
	// MetricsExporter: "none", "stdout", "otlp"
	MetricsExporter   string        `mapstructure:"metrics_exporter"`
	OTLPEndpoint      string        `mapstructure:"otlp_endpoint"`
	ReportPath        string        `mapstructure:"report_path"`
	ReportInterval    time.Duration `mapstructure:"report_interval"`
	MemoryBudgetBytes int64         `mapstructure:"memory_budget_bytes"`
	AdviceMinRequests int64         `mapstructure:"advice_min_requests"`
}

// EmailConfig - рассылка сводки рекомендаций через Resend
type EmailConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	ResendAPIKey string   `mapstructure:"resend_api_key"`
	From         string   `mapstructure:"from"`
	DigestTo     []string `mapstructure:"digest_to"`
}

// LogConfig - режим логгера ("development" или "production")
type LogConfig struct {
	Mode string `mapstructure:"mode"`
}

// WorkerConfig - фоновые задачи хоста
type WorkerConfig struct {
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	WarmupSubjects []uint        `mapstructure:"warmup_subjects"`
	RestoreWindow  time.Duration `mapstructure:"restore_window"`
}

var (
	candidateBackends = []string{"auto", "redis", "memory"}
	metricsExporters  = []string{"none", "stdout", "otlp"}
)

// PostgresConnectionString формирует строку подключения к PostgreSQL
func (d *DatabaseConfig) PostgresConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// PostgresURL формирует URL для golang-migrate
func (d *DatabaseConfig) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// EngineConfig переводит настройки в конфигурацию движка
func (p PoolConfig) EngineConfig(t TelemetryConfig) *poolcache.Config {
	cfg := poolcache.DefaultConfig()
	cfg.PoolSizeMultiplier = p.PoolSizeMultiplier
	cfg.MaxAttempts = p.MaxAttempts
	cfg.MaxAttemptOverlap = p.MaxAttemptOverlap
	cfg.MinUniquePercentage = p.MinUniquePercentage
	cfg.MaxRepetitions = p.MaxRepetitions
	cfg.SharedPoolTTL = p.SharedPoolTTL
	cfg.UniquePoolTTL = p.UniquePoolTTL
	cfg.QuestionPoolTTL = p.QuestionPoolTTL
	cfg.MaxSharedCaches = p.MaxSharedCaches
	cfg.MaxUniqueCaches = p.MaxUniqueCaches
	cfg.MaxQuestionPools = p.MaxQuestionPools
	cfg.HistoryInactivityTTL = p.HistoryInactivityTTL
	cfg.EstimatedEntryBytes = p.EstimatedEntryBytes
	cfg.TopEntries = p.TopEntries
	cfg.WarmupQuantity = p.WarmupQuantity
	cfg.MemoryBudgetBytes = t.MemoryBudgetBytes
	cfg.AdviceMinRequests = t.AdviceMinRequests
	return cfg
}

func setDefaults(vip *viper.Viper) {
	vip.SetDefault("database.port", "5432")
	vip.SetDefault("database.sslmode", "disable")
	vip.SetDefault("database.migrations_path", "migrations")

	vip.SetDefault("redis.mode", "single")

	vip.SetDefault("pool.pool_size_multiplier", poolcache.DefaultPoolSizeMultiplier)
	vip.SetDefault("pool.max_attempts", poolcache.DefaultMaxAttempts)
	vip.SetDefault("pool.max_attempt_overlap", poolcache.DefaultMaxAttemptOverlap)
	vip.SetDefault("pool.min_unique_percentage", poolcache.DefaultMinUniquePercentage)
	vip.SetDefault("pool.max_repetitions", poolcache.DefaultMaxRepetitions)
	vip.SetDefault("pool.shared_pool_ttl", poolcache.DefaultSharedPoolTTL)
	vip.SetDefault("pool.unique_pool_ttl", poolcache.DefaultUniquePoolTTL)
	vip.SetDefault("pool.question_pool_ttl", poolcache.DefaultQuestionPoolTTL)
	vip.SetDefault("pool.max_shared_caches", poolcache.DefaultMaxSharedCaches)
	vip.SetDefault("pool.max_unique_caches", poolcache.DefaultMaxUniqueCaches)
	vip.SetDefault("pool.max_question_pools", poolcache.DefaultMaxQuestionPools)
	vip.SetDefault("pool.history_inactivity_ttl", poolcache.DefaultHistoryInactivity)
	vip.SetDefault("pool.estimated_entry_bytes", poolcache.DefaultEstimatedEntryBytes)
	vip.SetDefault("pool.top_entries", poolcache.DefaultTopEntries)
	vip.SetDefault("pool.warmup_quantity", poolcache.DefaultWarmupQuantity)

	vip.SetDefault("candidates.cache_backend", "auto")
	vip.SetDefault("candidates.cache_ttl", 10*time.Minute)
	vip.SetDefault("candidates.cleanup_interval", 5*time.Minute)

	vip.SetDefault("telemetry.metrics_exporter", "none")
	vip.SetDefault("telemetry.report_interval", time.Hour)
	vip.SetDefault("telemetry.memory_budget_bytes", 64<<20)
	vip.SetDefault("telemetry.advice_min_requests", 20)

	vip.SetDefault("log.mode", "development")

	vip.SetDefault("worker.sweep_interval", time.Minute)
	vip.SetDefault("worker.restore_window", poolcache.DefaultHistoryInactivity)
}

// Load загружает конфигурацию из файла (необязательного) и переменных окружения
func Load(configPath string) (*Config, error) {
	vip := viper.New() // отдельный экземпляр, без глобального состояния
	setDefaults(vip)

	// Привязка для секции Database
	vip.BindEnv("database.host", "DATABASE_HOST")
	vip.BindEnv("database.port", "DATABASE_PORT")
	vip.BindEnv("database.user", "DATABASE_USER")
	vip.BindEnv("database.password", "DATABASE_PASSWORD")
	vip.BindEnv("database.dbname", "DATABASE_DBNAME")
	vip.BindEnv("database.sslmode", "DATABASE_SSLMODE")
	vip.BindEnv("database.migrations_path", "DATABASE_MIGRATIONS_PATH")

	// Привязка для секции Redis
	vip.BindEnv("redis.mode", "REDIS_MODE")
	vip.BindEnv("redis.addrs", "REDIS_ADDRS")
	vip.BindEnv("redis.addr", "REDIS_ADDR")
	vip.BindEnv("redis.password", "REDIS_PASSWORD")
	vip.BindEnv("redis.db", "REDIS_DB")
	vip.BindEnv("redis.master_name", "REDIS_MASTER_NAME")

	// Телеметрия, почта, логгер
	vip.BindEnv("telemetry.metrics_exporter", "METRICS_EXPORTER")
	vip.BindEnv("telemetry.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	vip.BindEnv("email.resend_api_key", "RESEND_API_KEY")
	vip.BindEnv("log.mode", "LOG_MODE")

	if configPath != "" {
		vip.SetConfigFile(configPath)
		// Файла может не быть: тогда работаем на переменных окружения и умолчаниях
		if err := vip.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %q: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет обязательные параметры
func (c *Config) Validate() error {
	if c.Database.Host == "" || c.Database.DBName == "" || c.Database.User == "" {
		return fmt.Errorf("%w: database configuration (host, dbname, user) is incomplete (check DATABASE_HOST, DATABASE_DBNAME, DATABASE_USER env vars)", apperrors.ErrValidation)
	}
	if !slices.Contains(candidateBackends, c.Candidates.CacheBackend) {
		return fmt.Errorf("%w: unknown candidates cache backend %q", apperrors.ErrValidation, c.Candidates.CacheBackend)
	}
	if c.Candidates.CacheBackend == "redis" && !c.Redis.IsConfigured() {
		return fmt.Errorf("%w: redis cache backend requires redis addresses (check REDIS_ADDRS)", apperrors.ErrValidation)
	}
	if !slices.Contains(metricsExporters, c.Telemetry.MetricsExporter) {
		return fmt.Errorf("%w: unknown metrics exporter %q", apperrors.ErrValidation, c.Telemetry.MetricsExporter)
	}
	if c.Email.Enabled && (c.Email.ResendAPIKey == "" || c.Email.From == "" || len(c.Email.DigestTo) == 0) {
		return fmt.Errorf("%w: email digest requires api key, sender and recipients (check RESEND_API_KEY)", apperrors.ErrValidation)
	}
	if c.Worker.SweepInterval <= 0 {
		return fmt.Errorf("%w: worker sweep interval must be positive", apperrors.ErrValidation)
	}
	if err := c.Pool.EngineConfig(c.Telemetry).Validate(); err != nil {
		return fmt.Errorf("invalid pool configuration: %w", err)
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
