package poolcache

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/yourusername/exam-pool/internal/pkg/logger"
	apperrors "github.com/yourusername/exam-pool/internal/pkg/errors"
)

// Значения по умолчанию для движка пулов
const (
	DefaultPoolSizeMultiplier  = 3
	DefaultMaxAttempts         = 5
	DefaultMaxAttemptOverlap   = 0.2
	DefaultMinUniquePercentage = 0.7
	DefaultMaxRepetitions      = 3
	DefaultSharedPoolTTL       = 6 * time.Hour
	DefaultUniquePoolTTL       = 24 * time.Hour
	DefaultQuestionPoolTTL     = 2 * time.Hour
	DefaultMaxSharedCaches     = 100
	DefaultMaxUniqueCaches     = 1000
	DefaultMaxQuestionPools    = 1000
	DefaultHistoryInactivity   = 30 * 24 * time.Hour
	DefaultEstimatedEntryBytes = 2048
	DefaultWarmupQuantity      = 20
	DefaultTopEntries          = 5
)

// Config содержит настройки движка кеширования пулов вопросов
type Config struct {
	// PoolSizeMultiplier - во сколько раз больше кандидатов запрашивать у источника (>= 2)
	PoolSizeMultiplier int

	// MaxAttempts - сколько последних попыток учитывать при исключении вопросов
	MaxAttempts int

	// MaxAttemptOverlap - допустимая доля пересечения с прошлыми попытками; выше - "деградированная" сборка
	MaxAttemptOverlap float64

	// MinUniquePercentage - минимальная доля новых вопросов в уникальном пуле (0..1)
	MinUniquePercentage float64

	// MaxRepetitions - сколько раз можно повторить купленный экзамен
	MaxRepetitions int

	// TTL по уровням кеша
	SharedPoolTTL   time.Duration
	UniquePoolTTL   time.Duration
	QuestionPoolTTL time.Duration

	// Ёмкость по уровням кеша
	MaxSharedCaches  int
	MaxUniqueCaches  int
	MaxQuestionPools int

	// HistoryInactivityTTL - через сколько простоя удаляются записи истории
	HistoryInactivityTTL time.Duration

	// Настройки телеметрии
	EstimatedEntryBytes int64
	TopEntries          int
	MemoryBudgetBytes   int64
	AdviceMinRequests   int64

	// WarmupQuantity - размер общих пулов, создаваемых при прогреве
	WarmupQuantity int
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		PoolSizeMultiplier:   DefaultPoolSizeMultiplier,
		MaxAttempts:          DefaultMaxAttempts,
		MaxAttemptOverlap:    DefaultMaxAttemptOverlap,
		MinUniquePercentage:  DefaultMinUniquePercentage,
		MaxRepetitions:       DefaultMaxRepetitions,
		SharedPoolTTL:        DefaultSharedPoolTTL,
		UniquePoolTTL:        DefaultUniquePoolTTL,
		QuestionPoolTTL:      DefaultQuestionPoolTTL,
		MaxSharedCaches:      DefaultMaxSharedCaches,
		MaxUniqueCaches:      DefaultMaxUniqueCaches,
		MaxQuestionPools:     DefaultMaxQuestionPools,
		HistoryInactivityTTL: DefaultHistoryInactivity,
		EstimatedEntryBytes:  DefaultEstimatedEntryBytes,
		TopEntries:           DefaultTopEntries,
		MemoryBudgetBytes:    64 << 20, // 64 MiB
		AdviceMinRequests:    20,
		WarmupQuantity:       DefaultWarmupQuantity,
	}
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	switch {
	case c.PoolSizeMultiplier < 2:
		return fmt.Errorf("%w: pool size multiplier must be >= 2, got %d", apperrors.ErrValidation, c.PoolSizeMultiplier)
	case c.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be >= 1", apperrors.ErrValidation)
	case c.MaxAttemptOverlap < 0 || c.MaxAttemptOverlap > 1:
		return fmt.Errorf("%w: max attempt overlap must be within [0,1]", apperrors.ErrValidation)
	case c.MinUniquePercentage < 0 || c.MinUniquePercentage > 1:
		return fmt.Errorf("%w: min unique percentage must be within [0,1]", apperrors.ErrValidation)
	case c.MaxRepetitions < 0:
		return fmt.Errorf("%w: max repetitions must be >= 0", apperrors.ErrValidation)
	case c.SharedPoolTTL <= 0 || c.UniquePoolTTL <= 0 || c.QuestionPoolTTL <= 0:
		return fmt.Errorf("%w: pool TTLs must be positive", apperrors.ErrValidation)
	case c.MaxSharedCaches < 1 || c.MaxUniqueCaches < 1 || c.MaxQuestionPools < 1:
		return fmt.Errorf("%w: cache capacities must be positive", apperrors.ErrValidation)
	case c.HistoryInactivityTTL <= 0:
		return fmt.Errorf("%w: history inactivity TTL must be positive", apperrors.ErrValidation)
	}
	return nil
}

// Clock - источник текущего времени (подменяется в тестах)
type Clock interface {
	Now() time.Time
}

// SystemClock использует time.Now
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// CandidateRequest описывает запрос кандидатов у внешнего источника вопросов.
// SubjectID = 0 означает "любой предмет" (пулы попыток не привязаны к предмету).
type CandidateRequest struct {
	SubjectID uint
	Criteria  PoolSelectionCriteria
	Quantity  int
}

// CandidateSource возвращает надмножество подходящих вопросов (только ID).
// Порядок результата не гарантируется; вызов должен быть безопасен для повторов.
type CandidateSource interface {
	FetchCandidates(ctx context.Context, req CandidateRequest) ([]uint, error)
}

// PurchaseLedger - персистентный журнал покупок (внешний коллаборатор).
// Движок только читает из него исходный набор вопросов купленного экзамена.
type PurchaseLedger interface {
	GetPurchasedQuestions(ctx context.Context, learnerID, examID uint) ([]uint, error)
}

// Dependencies содержит зависимости движка
type Dependencies struct {
	Candidates CandidateSource
	Ledger     PurchaseLedger // может быть nil - тогда используются только покупки из RecordExamPurchase
	Clock      Clock
	Logger     *logger.Logger
	Meter      metric.Meter // nil → noop
}

// Типы ответа GetExamQuestions
const (
	CacheTypeShared     = "shared"
	CacheTypeUnique     = "unique"
	CacheTypeRepetition = "repetition"
)

// Коды причин для результатов без вопросов
const (
	ReasonRepetitionLimitExceeded = "repetition_limit_exceeded"
)

// CacheInfo описывает, каким путём был получен набор вопросов
type CacheInfo struct {
	Type             string    `json:"type"`
	CacheHit         bool      `json:"cache_hit"`
	HitRate          float64   `json:"hit_rate"`
	UsageCount       int64     `json:"usage_count"`
	PurchaseSequence int       `json:"purchase_sequence,omitempty"`
	RepetitionNumber int       `json:"repetition_number,omitempty"`
	UniqueFraction   float64   `json:"unique_fraction,omitempty"`
	Degraded         bool      `json:"degraded,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
	ExpiresAt        time.Time `json:"expires_at,omitempty"`
}
