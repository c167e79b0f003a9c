package poolcache

import (
	"context"
	"fmt"

	apperrors "github.com/yourusername/exam-pool/internal/pkg/errors"
)

func questionPoolKey(signature string, learnerID, examID uint, attempt int) string {
	return fmt.Sprintf("qpool:%s:learner:%d:exam:%d:attempt:%d", signature, learnerID, examID, attempt)
}

// GetPoolForAttempt возвращает набор вопросов для очередной попытки ученика.
// Вопросы прошлых попыток (не больше MaxAttempts последних) исключаются; если свежих не хватает,
// первыми возвращаются вопросы самых старых попыток. Одинаковые входные данные дают одинаковый порядок.
func (e *Engine) GetPoolForAttempt(ctx context.Context, criteria PoolSelectionCriteria, learnerID, examID uint) ([]uint, error) {
	if criteria.IsZero() {
		return nil, fmt.Errorf("%w: criteria are required", apperrors.ErrValidation)
	}
	if learnerID == 0 || examID == 0 {
		return nil, fmt.Errorf("%w: learner and exam ids are required", apperrors.ErrValidation)
	}
	if criteria.LearnerID() != 0 && criteria.LearnerID() != learnerID {
		return nil, fmt.Errorf("%w: criteria belong to learner %d", apperrors.ErrValidation, criteria.LearnerID())
	}

	attempt := criteria.AttemptNumber()
	if attempt == 0 {
		attempt = e.attempts.AttemptNumber(learnerID, examID)
	}
	key := questionPoolKey(criteria.Signature(), learnerID, examID, attempt)

	res, err := e.getOrBuild(ctx, e.questionPools, key, func(ctx context.Context) (CachedPool, int, error) {
		return e.buildAttemptPool(ctx, key, criteria, learnerID, examID, attempt)
	})
	if err != nil {
		e.metrics.request(ctx, TierQuestionPool, resultError)
		e.log.Warn("[PoolCache] Не удалось собрать пул попытки",
			"learner_id", learnerID, "exam_id", examID, "attempt", attempt, "error", err)
		return nil, err
	}

	e.attempts.RecordAttempt(learnerID, examID, attempt, res.pool.VersionID, res.pool.QuestionIDs)
	if res.hit {
		e.metrics.request(ctx, TierQuestionPool, resultHit)
	} else {
		e.metrics.request(ctx, TierQuestionPool, resultMiss)
	}
	return res.pool.QuestionIDs, nil
}

func (e *Engine) buildAttemptPool(ctx context.Context, key string, criteria PoolSelectionCriteria, learnerID, examID uint, attempt int) (CachedPool, int, error) {
	candidates, err := e.fetchCandidates(ctx, 0, criteria)
	if err != nil {
		return CachedPool{}, 0, err
	}

	history := e.attempts.ExcludedPools(learnerID, examID, attempt)
	selected, reused := selectQuestions(candidates, history, criteria.Quantity(), newRand(attemptSeed(learnerID, examID, attempt)))

	if overlap := overlapFraction(reused, len(selected)); overlap > e.cfg.MaxAttemptOverlap {
		e.questionPools.recordDegraded()
		e.log.Warn("[PoolCache] Пересечение с прошлыми попытками выше допустимого",
			"learner_id", learnerID, "exam_id", examID, "attempt", attempt,
			"overlap", overlap, "max_overlap", e.cfg.MaxAttemptOverlap)
	}

	pool, _ := e.questionPools.insert(key, entryTags{LearnerID: learnerID}, selected, 0)
	return pool, reused, nil
}
