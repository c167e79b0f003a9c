package poolcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	apperrors "github.com/yourusername/exam-pool/internal/pkg/errors"
)

// PoolSelectionCriteria - неизменяемые критерии отбора вопросов.
// Используются только для построения ключей кеша и запроса кандидатов.
type PoolSelectionCriteria struct {
	categories    []string
	difficulty    string
	tags          []string
	quantity      int
	attemptNumber int
	learnerID     uint
}

// CriteriaOption задаёт необязательные поля критериев
type CriteriaOption func(*PoolSelectionCriteria)

// WithAttemptNumber фиксирует номер попытки (воспроизведение конкретной попытки)
func WithAttemptNumber(n int) CriteriaOption {
	return func(c *PoolSelectionCriteria) { c.attemptNumber = n }
}

// WithLearner привязывает критерии к ученику
func WithLearner(learnerID uint) CriteriaOption {
	return func(c *PoolSelectionCriteria) { c.learnerID = learnerID }
}

// NewPoolSelectionCriteria нормализует (trim, lower, dedupe, sort) и валидирует критерии
func NewPoolSelectionCriteria(categories []string, difficulty string, tags []string, quantity int, opts ...CriteriaOption) (PoolSelectionCriteria, error) {
	c := PoolSelectionCriteria{
		categories: normalizeSet(categories),
		difficulty: strings.ToLower(strings.TrimSpace(difficulty)),
		tags:       normalizeSet(tags),
		quantity:   quantity,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.quantity <= 0 {
		return PoolSelectionCriteria{}, fmt.Errorf("%w: quantity must be positive, got %d", apperrors.ErrValidation, quantity)
	}
	if c.attemptNumber < 0 {
		return PoolSelectionCriteria{}, fmt.Errorf("%w: attempt number must not be negative", apperrors.ErrValidation)
	}
	return c, nil
}

func (c PoolSelectionCriteria) Categories() []string { return slices.Clone(c.categories) }
func (c PoolSelectionCriteria) Difficulty() string   { return c.difficulty }
func (c PoolSelectionCriteria) Tags() []string       { return slices.Clone(c.tags) }
func (c PoolSelectionCriteria) Quantity() int        { return c.quantity }
func (c PoolSelectionCriteria) AttemptNumber() int   { return c.attemptNumber }
func (c PoolSelectionCriteria) LearnerID() uint      { return c.learnerID }

// IsZero сообщает, что критерии не были построены конструктором
func (c PoolSelectionCriteria) IsZero() bool { return c.quantity == 0 }

// Signature возвращает детерминированную подпись критериев: первые 16 hex-символов SHA-256
// от канонической формы. Номер попытки и ученик в подпись не входят - они добавляются в ключ явно.
func (c PoolSelectionCriteria) Signature() string {
	var b strings.Builder
	b.WriteString("c=")
	b.WriteString(strings.Join(c.categories, ","))
	b.WriteString("|d=")
	b.WriteString(c.difficulty)
	b.WriteString("|t=")
	b.WriteString(strings.Join(c.tags, ","))
	b.WriteString("|q=")
	b.WriteString(strconv.Itoa(c.quantity))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

func normalizeSet(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// PurchaseConfig - параметры запроса GetExamQuestions
type PurchaseConfig struct {
	SubjectID    uint
	LearnerID    uint
	ExamID       uint // обязателен для повтора
	IsRepetition bool
	Criteria     PoolSelectionCriteria
}

// NewPurchaseConfig строит и валидирует конфигурацию покупки
func NewPurchaseConfig(subjectID, learnerID, examID uint, isRepetition bool, criteria PoolSelectionCriteria) (PurchaseConfig, error) {
	cfg := PurchaseConfig{
		SubjectID:    subjectID,
		LearnerID:    learnerID,
		ExamID:       examID,
		IsRepetition: isRepetition,
		Criteria:     criteria,
	}
	if err := cfg.validate(); err != nil {
		return PurchaseConfig{}, err
	}
	return cfg, nil
}

func (p PurchaseConfig) validate() error {
	if p.LearnerID == 0 {
		return fmt.Errorf("%w: learner id is required", apperrors.ErrValidation)
	}
	if p.IsRepetition {
		if p.ExamID == 0 {
			return fmt.Errorf("%w: exam id is required for repetition", apperrors.ErrValidation)
		}
		return nil
	}
	if p.SubjectID == 0 {
		return fmt.Errorf("%w: subject id is required", apperrors.ErrValidation)
	}
	if p.Criteria.IsZero() {
		return fmt.Errorf("%w: criteria are required", apperrors.ErrValidation)
	}
	return nil
}

// criteriaFields - "сырые" поля критериев для строгого декодирования
type criteriaFields struct {
	Categories    []string `mapstructure:"categories"`
	Difficulty    string   `mapstructure:"difficulty"`
	Tags          []string `mapstructure:"tags"`
	Quantity      int      `mapstructure:"quantity"`
	AttemptNumber int      `mapstructure:"attempt_number"`
	LearnerID     uint     `mapstructure:"learner_id"`
}

type purchaseFields struct {
	SubjectID    uint     `mapstructure:"subject_id"`
	LearnerID    uint     `mapstructure:"learner_id"`
	ExamID       uint     `mapstructure:"exam_id"`
	IsRepetition bool     `mapstructure:"is_repetition"`
	Categories   []string `mapstructure:"categories"`
	Difficulty   string   `mapstructure:"difficulty"`
	Tags         []string `mapstructure:"tags"`
	Quantity     int      `mapstructure:"quantity"`
}

// DecodePoolSelectionCriteria строит критерии из произвольной карты; неизвестные поля - ошибка валидации
func DecodePoolSelectionCriteria(raw map[string]any) (PoolSelectionCriteria, error) {
	var f criteriaFields
	if err := decodeStrict(raw, &f); err != nil {
		return PoolSelectionCriteria{}, err
	}
	return NewPoolSelectionCriteria(f.Categories, f.Difficulty, f.Tags, f.Quantity,
		WithAttemptNumber(f.AttemptNumber), WithLearner(f.LearnerID))
}

// DecodePurchaseConfig строит PurchaseConfig из произвольной карты; неизвестные поля - ошибка валидации.
// Для повтора критерии не обязательны.
func DecodePurchaseConfig(raw map[string]any) (PurchaseConfig, error) {
	var f purchaseFields
	if err := decodeStrict(raw, &f); err != nil {
		return PurchaseConfig{}, err
	}

	var criteria PoolSelectionCriteria
	if !f.IsRepetition || f.Quantity > 0 {
		var err error
		criteria, err = NewPoolSelectionCriteria(f.Categories, f.Difficulty, f.Tags, f.Quantity, WithLearner(f.LearnerID))
		if err != nil {
			return PurchaseConfig{}, err
		}
	}
	return NewPurchaseConfig(f.SubjectID, f.LearnerID, f.ExamID, f.IsRepetition, criteria)
}

func decodeStrict(raw map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	return nil
}
