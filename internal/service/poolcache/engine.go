package poolcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/yourusername/exam-pool/internal/pkg/errors"
	"github.com/yourusername/exam-pool/internal/pkg/logger"
)

// Engine - движок кеширования пулов вопросов.
// Безопасен для конкурентного использования; всё состояние хранится в памяти.
type Engine struct {
	cfg        Config
	candidates CandidateSource
	ledger     PurchaseLedger
	clock      Clock
	log        *logger.Logger
	metrics    *engineMetrics

	questionPools *arena
	shared        *arena
	unique        *arena

	attempts    *AttemptHistoryTracker
	purchases   *PurchaseHistoryTracker
	repetitions *RepetitionTracker

	flights singleflight.Group

	// purchaseLocks упорядочивают сборки уникальных пулов одного ученика по предмету
	purchaseLocks [purchaseLockStripes]sync.Mutex
}

const purchaseLockStripes = 64

func (e *Engine) purchaseLock(learnerID, subjectID uint) *sync.Mutex {
	return &e.purchaseLocks[keyHash(fmt.Sprintf("%d:%d", learnerID, subjectID))%purchaseLockStripes]
}

// NewEngine создаёт движок. cfg == nil - настройки по умолчанию.
func NewEngine(cfg *Config, deps *Dependencies) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps == nil || deps.Candidates == nil {
		return nil, fmt.Errorf("%w: candidate source is required", apperrors.ErrValidation)
	}

	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "poolcache")

	metrics, err := newEngineMetrics(deps.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	e := &Engine{
		cfg:        *cfg,
		candidates: deps.Candidates,
		ledger:     deps.Ledger,
		clock:      clock,
		log:        log,
		metrics:    metrics,

		questionPools: newArena(TierQuestionPool, cfg.QuestionPoolTTL, cfg.MaxQuestionPools, clock, log, metrics),
		shared:        newArena(TierShared, cfg.SharedPoolTTL, cfg.MaxSharedCaches, clock, log, metrics),
		unique:        newArena(TierUnique, cfg.UniquePoolTTL, cfg.MaxUniqueCaches, clock, log, metrics),

		attempts:    NewAttemptHistoryTracker(cfg.MaxAttempts, cfg.HistoryInactivityTTL, clock),
		purchases:   NewPurchaseHistoryTracker(cfg.HistoryInactivityTTL, clock),
		repetitions: NewRepetitionTracker(cfg.MaxRepetitions, cfg.HistoryInactivityTTL, clock),
	}

	log.Info("[PoolCache] Движок инициализирован",
		"pool_size_multiplier", cfg.PoolSizeMultiplier,
		"max_attempts", cfg.MaxAttempts,
		"max_repetitions", cfg.MaxRepetitions,
		"shared_ttl", cfg.SharedPoolTTL.String(),
		"unique_ttl", cfg.UniquePoolTTL.String())
	return e, nil
}

// Config возвращает копию настроек движка
func (e *Engine) Config() Config {
	return e.cfg
}

type flightResult struct {
	pool   CachedPool
	reused int
	hit    bool
}

// getOrBuild возвращает пул из арены или строит его. Для одного ключа одновременно идёт
// не больше одной сборки; дождавшиеся её вызывающие получают тот же набор и считаются попаданием.
// Начатая сборка не отменяется вместе с контекстом вызывающего.
func (e *Engine) getOrBuild(ctx context.Context, a *arena, key string, build func(context.Context) (CachedPool, int, error)) (flightResult, error) {
	if pool, ok := a.lookup(key); ok {
		return flightResult{pool: pool, hit: true}, nil
	}

	led := false
	v, err, _ := e.flights.Do(key, func() (any, error) {
		led = true
		if pool, ok := a.lookup(key); ok {
			return flightResult{pool: pool, hit: true}, nil
		}
		a.recordMiss()

		start := time.Now()
		pool, reused, err := build(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		e.metrics.build(ctx, a.tier, time.Since(start))
		return flightResult{pool: pool, reused: reused}, nil
	})
	if err != nil {
		return flightResult{}, err
	}

	res := v.(flightResult)
	if !led {
		if pool, ok := a.touch(key); ok {
			res.pool = pool
		} else {
			res.pool = res.pool.clone()
		}
		res.hit = true
	}
	return res, nil
}

// fetchCandidates запрашивает у источника надмножество кандидатов и нормализует его
func (e *Engine) fetchCandidates(ctx context.Context, subjectID uint, criteria PoolSelectionCriteria) ([]uint, error) {
	quantity := criteria.Quantity()
	ids, err := e.candidates.FetchCandidates(ctx, CandidateRequest{
		SubjectID: subjectID,
		Criteria:  criteria,
		Quantity:  quantity * e.cfg.PoolSizeMultiplier,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidates: %w", err)
	}

	candidates := uniqueCandidates(ids)
	if len(candidates) < quantity {
		return nil, &InsufficientCandidatesError{Requested: quantity, Available: len(candidates)}
	}
	return candidates, nil
}

// RecordExamPurchase сообщает движку о купленном экзамене и его исходном наборе вопросов
func (e *Engine) RecordExamPurchase(learnerID, examID, subjectID uint, questionIDs []uint) error {
	if learnerID == 0 || examID == 0 || subjectID == 0 {
		return fmt.Errorf("%w: learner, exam and subject ids are required", apperrors.ErrValidation)
	}
	if len(questionIDs) == 0 {
		return fmt.Errorf("%w: purchased exam has no questions", apperrors.ErrValidation)
	}
	e.purchases.RecordExam(learnerID, examID, subjectID, questionIDs)
	return nil
}

// CancelExamPurchase отменяет выданную покупку, которую не удалось сохранить у вызывающего.
// Набор покупки больше не участвует в подборе уникальных пулов; если это последняя покупка,
// её номер освобождается и следующая покупка получит тот же тип пула.
func (e *Engine) CancelExamPurchase(learnerID, subjectID uint, seq int) bool {
	if !e.purchases.RevokePurchase(learnerID, subjectID, seq) {
		return false
	}
	if seq > 1 {
		e.unique.remove(uniqueKey(learnerID, subjectID, seq))
	}
	e.log.Info("[PoolCache] Покупка отменена",
		"learner_id", learnerID, "subject_id", subjectID, "purchase", seq)
	return true
}

// ClearAllCaches сбрасывает все пулы и истории
func (e *Engine) ClearAllCaches() {
	pools := e.questionPools.clear() + e.shared.clear() + e.unique.clear()
	e.attempts.Clear()
	e.purchases.Clear()
	e.repetitions.Clear()
	e.log.Info("[PoolCache] Все кеши очищены", "pools_removed", pools)
}

// ClearSubjectCache удаляет общие и уникальные пулы предмета; истории не трогаются
func (e *Engine) ClearSubjectCache(subjectID uint) int {
	bySubject := func(_ string, tags entryTags) bool { return tags.SubjectID == subjectID }
	removed := e.shared.removeIf(bySubject) + e.unique.removeIf(bySubject)
	e.log.Info("[PoolCache] Кеш предмета очищен", "subject_id", subjectID, "removed", removed)
	return removed
}

// WarmupCache заранее строит общие пулы предметов (критерии - только предмет).
// Возвращает число построенных пулов; ошибки по предметам объединяются.
func (e *Engine) WarmupCache(ctx context.Context, subjectIDs []uint) (int, error) {
	criteria, err := NewPoolSelectionCriteria(nil, "", nil, e.cfg.WarmupQuantity)
	if err != nil {
		return 0, err
	}

	built := 0
	var errs []error
	for _, subjectID := range subjectIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := e.sharedPool(ctx, subjectID, criteria)
		if err != nil {
			errs = append(errs, fmt.Errorf("subject %d: %w", subjectID, err))
			continue
		}
		if !res.hit {
			built++
		}
	}

	e.log.Info("[PoolCache] Прогрев завершён", "subjects", len(subjectIDs), "built", built, "failed", len(errs))
	return built, errors.Join(errs...)
}

// PurchaseStats - сводка покупок ученика по предмету
type PurchaseStats struct {
	LearnerID        uint      `json:"learner_id"`
	SubjectID        uint      `json:"subject_id"`
	PurchaseCount    int       `json:"purchase_count"`
	ExamIDs          []uint    `json:"exam_ids"`
	LastPurchaseAt   time.Time `json:"last_purchase_at,omitempty"`
	NextPurchaseType string    `json:"next_purchase_type"`
}

func (e *Engine) GetUserPurchaseStats(learnerID, subjectID uint) PurchaseStats {
	stats := PurchaseStats{
		LearnerID:        learnerID,
		SubjectID:        subjectID,
		ExamIDs:          []uint{},
		NextPurchaseType: CacheTypeShared,
	}
	entry, ok := e.purchases.Stats(learnerID, subjectID)
	if !ok {
		return stats
	}
	stats.PurchaseCount = entry.PurchaseCount
	stats.ExamIDs = entry.ExamIDs
	stats.LastPurchaseAt = entry.LastPurchaseAt
	if entry.PurchaseCount > 0 {
		stats.NextPurchaseType = CacheTypeUnique
	}
	return stats
}

// RepetitionStats - сводка повторов экзамена
type RepetitionStats struct {
	LearnerID        uint      `json:"learner_id"`
	ExamID           uint      `json:"exam_id"`
	RepetitionCount  int       `json:"repetition_count"`
	MaxRepetitions   int       `json:"max_repetitions"`
	Remaining        int       `json:"remaining"`
	LastRepetitionAt time.Time `json:"last_repetition_at,omitempty"`
}

func (e *Engine) GetExamRepetitionStats(learnerID, examID uint) RepetitionStats {
	stats := RepetitionStats{
		LearnerID:      learnerID,
		ExamID:         examID,
		MaxRepetitions: e.cfg.MaxRepetitions,
		Remaining:      e.cfg.MaxRepetitions,
	}
	if entry, ok := e.repetitions.Get(learnerID, examID); ok {
		stats.RepetitionCount = entry.RepetitionCount
		stats.Remaining = max(0, e.cfg.MaxRepetitions-entry.RepetitionCount)
		stats.LastRepetitionAt = entry.LastRepetitionAt
	}
	return stats
}

// SweepResult - сколько записей удалила очистка
type SweepResult struct {
	QuestionPools int `json:"question_pools"`
	SharedPools   int `json:"shared_pools"`
	UniquePools   int `json:"unique_pools"`
	Attempts      int `json:"attempts"`
	Purchases     int `json:"purchases"`
	Repetitions   int `json:"repetitions"`
}

func (r SweepResult) Total() int {
	return r.QuestionPools + r.SharedPools + r.UniquePools + r.Attempts + r.Purchases + r.Repetitions
}

// Sweep удаляет просроченные пулы и неактивные истории; вызывается хостом периодически
func (e *Engine) Sweep() SweepResult {
	now := e.clock.Now()
	res := SweepResult{
		QuestionPools: e.questionPools.sweep(),
		SharedPools:   e.shared.sweep(),
		UniquePools:   e.unique.sweep(),
		Attempts:      e.attempts.Sweep(now),
		Purchases:     e.purchases.Sweep(now),
		Repetitions:   e.repetitions.Sweep(now),
	}
	if res.Total() > 0 {
		e.log.Debug("[PoolCache] Очистка завершена", "removed", res.Total())
	}
	return res
}
