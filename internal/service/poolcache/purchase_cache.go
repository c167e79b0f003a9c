package poolcache

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	apperrors "github.com/yourusername/exam-pool/internal/pkg/errors"
)

func sharedKey(subjectID uint, signature string) string {
	return fmt.Sprintf("shared:subject:%d:%s", subjectID, signature)
}

func uniqueKey(learnerID, subjectID uint, seq int) string {
	return fmt.Sprintf("unique:learner:%d:subject:%d:purchase:%d", learnerID, subjectID, seq)
}

func repetitionKey(learnerID, examID uint) string {
	return fmt.Sprintf("repetition:learner:%d:exam:%d", learnerID, examID)
}

// GetExamQuestions выдаёт набор вопросов для покупки экзамена:
//   - первая покупка предмета получает общий пул предмета;
//   - каждая следующая - уникальный пул с минимальным пересечением с прошлыми покупками;
//   - повтор возвращает исходный набор купленного экзамена, пока не исчерпан лимит.
func (e *Engine) GetExamQuestions(ctx context.Context, cfg PurchaseConfig) ([]uint, CacheInfo, error) {
	if err := cfg.validate(); err != nil {
		return nil, CacheInfo{}, err
	}
	if cfg.IsRepetition {
		return e.repetitionPool(ctx, cfg)
	}

	seq := e.purchases.BeginPurchase(cfg.LearnerID, cfg.SubjectID)

	var (
		ids  []uint
		info CacheInfo
		err  error
	)
	if seq == 1 {
		ids, info, err = e.sharedPurchase(ctx, cfg)
	} else {
		ids, info, err = e.uniquePurchase(ctx, cfg, seq)
	}
	if err != nil {
		e.purchases.CancelPurchase(cfg.LearnerID, cfg.SubjectID, seq)
		e.log.Warn("[PoolCache] Не удалось выдать вопросы покупки",
			"learner_id", cfg.LearnerID, "subject_id", cfg.SubjectID, "purchase", seq, "error", err)
		return nil, CacheInfo{}, err
	}

	e.purchases.CompletePurchase(cfg.LearnerID, cfg.SubjectID, seq, ids)
	return ids, info, nil
}

func (e *Engine) sharedPurchase(ctx context.Context, cfg PurchaseConfig) ([]uint, CacheInfo, error) {
	res, err := e.sharedPool(ctx, cfg.SubjectID, cfg.Criteria)
	if err != nil {
		return nil, CacheInfo{}, err
	}

	entry := SharedCacheEntry{SubjectID: cfg.SubjectID, Pool: res.pool, PurchaseNumber: 1}
	usage := entry.Pool.UsageCount
	return entry.Pool.QuestionIDs, CacheInfo{
		Type:             CacheTypeShared,
		CacheHit:         res.hit,
		HitRate:          float64(usage) / float64(usage+1),
		UsageCount:       usage,
		PurchaseSequence: entry.PurchaseNumber,
		CreatedAt:        entry.Pool.CreatedAt,
		ExpiresAt:        entry.Pool.ExpiresAt,
	}, nil
}

// sharedPool берёт общий пул предмета из кеша или строит его
func (e *Engine) sharedPool(ctx context.Context, subjectID uint, criteria PoolSelectionCriteria) (flightResult, error) {
	key := sharedKey(subjectID, criteria.Signature())
	res, err := e.getOrBuild(ctx, e.shared, key, func(ctx context.Context) (CachedPool, int, error) {
		candidates, err := e.fetchCandidates(ctx, subjectID, criteria)
		if err != nil {
			return CachedPool{}, 0, err
		}
		selected, _ := selectQuestions(candidates, nil, criteria.Quantity(), e.timeSeededRand(key))
		pool, _ := e.shared.insert(key, entryTags{SubjectID: subjectID}, selected, 1)
		e.log.Debug("[PoolCache] Построен общий пул", "subject_id", subjectID, "key", key, "questions", len(selected))
		return pool, 0, nil
	})
	if err != nil {
		e.metrics.request(ctx, TierShared, resultError)
		return flightResult{}, err
	}
	e.metrics.request(ctx, TierShared, hitOrMiss(res.hit))
	return res, nil
}

func (e *Engine) uniquePurchase(ctx context.Context, cfg PurchaseConfig, seq int) ([]uint, CacheInfo, error) {
	key := uniqueKey(cfg.LearnerID, cfg.SubjectID, seq)

	// Сборки одного ученика идут по очереди, и каждая сразу записывает свой набор:
	// параллельные покупки видят наборы друг друга.
	res, err := e.getOrBuild(ctx, e.unique, key, func(ctx context.Context) (CachedPool, int, error) {
		mu := e.purchaseLock(cfg.LearnerID, cfg.SubjectID)
		mu.Lock()
		defer mu.Unlock()

		history := e.purchases.IssuedPoolsExcept(cfg.LearnerID, cfg.SubjectID, seq)
		candidates, err := e.fetchCandidates(ctx, cfg.SubjectID, cfg.Criteria)
		if err != nil {
			return CachedPool{}, 0, err
		}
		selected, _ := selectQuestions(candidates, history, cfg.Criteria.Quantity(), e.timeSeededRand(key))
		pool, _ := e.unique.insert(key, entryTags{SubjectID: cfg.SubjectID, LearnerID: cfg.LearnerID}, selected, seq)
		e.purchases.CompletePurchase(cfg.LearnerID, cfg.SubjectID, seq, pool.QuestionIDs)
		return pool, countReused(pool.QuestionIDs, history), nil
	})
	if err != nil {
		e.metrics.request(ctx, TierUnique, resultError)
		return nil, CacheInfo{}, err
	}
	e.metrics.request(ctx, TierUnique, hitOrMiss(res.hit))

	reused := res.reused
	if res.hit {
		reused = countReused(res.pool.QuestionIDs, e.purchases.IssuedPoolsExcept(cfg.LearnerID, cfg.SubjectID, seq))
	}
	overlap := overlapFraction(reused, len(res.pool.QuestionIDs))
	uniqueFraction := 1 - overlap
	degraded := uniqueFraction < e.cfg.MinUniquePercentage
	if degraded && !res.hit {
		e.unique.recordDegraded()
		e.log.Warn("[PoolCache] Уникальный пул собран с пересечением выше допустимого",
			"learner_id", cfg.LearnerID, "subject_id", cfg.SubjectID, "purchase", seq,
			"unique_fraction", uniqueFraction, "min_unique", e.cfg.MinUniquePercentage)
	}

	return res.pool.QuestionIDs, CacheInfo{
		Type:             CacheTypeUnique,
		CacheHit:         res.hit,
		HitRate:          overlap,
		UsageCount:       res.pool.UsageCount,
		PurchaseSequence: seq,
		UniqueFraction:   uniqueFraction,
		Degraded:         degraded,
		CreatedAt:        res.pool.CreatedAt,
		ExpiresAt:        res.pool.ExpiresAt,
	}, nil
}

func (e *Engine) repetitionPool(ctx context.Context, cfg PurchaseConfig) ([]uint, CacheInfo, error) {
	ids, n, err := e.repetitions.Next(cfg.LearnerID, cfg.ExamID, func() ([]uint, error) {
		return e.examSeed(ctx, cfg.LearnerID, cfg.ExamID)
	})

	var limitErr *RepetitionLimitError
	switch {
	case errors.As(err, &limitErr):
		e.metrics.denied(ctx)
		e.metrics.request(ctx, CacheTypeRepetition, resultDenied)
		e.log.Info("[PoolCache] Лимит повторов исчерпан",
			"key", repetitionKey(cfg.LearnerID, cfg.ExamID), "max_repetitions", limitErr.MaxRepetitions)
		return nil, CacheInfo{
			Type:             CacheTypeRepetition,
			RepetitionNumber: n,
			Reason:           ReasonRepetitionLimitExceeded,
		}, err
	case err != nil:
		e.metrics.request(ctx, CacheTypeRepetition, resultError)
		return nil, CacheInfo{}, err
	}

	e.metrics.request(ctx, CacheTypeRepetition, resultHit)
	return ids, CacheInfo{
		Type:             CacheTypeRepetition,
		CacheHit:         true,
		UsageCount:       int64(n),
		RepetitionNumber: n,
	}, nil
}

// examSeed - исходный набор купленного экзамена: сначала из памяти, затем из журнала покупок
func (e *Engine) examSeed(ctx context.Context, learnerID, examID uint) ([]uint, error) {
	if ids, ok := e.purchases.ExamQuestions(learnerID, examID); ok {
		return ids, nil
	}
	if e.ledger == nil {
		return nil, fmt.Errorf("%w: purchase of exam %d by learner %d", apperrors.ErrNotFound, examID, learnerID)
	}

	ids, err := e.ledger.GetPurchasedQuestions(ctx, learnerID, examID)
	if err != nil {
		return nil, fmt.Errorf("failed to load purchased questions: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: purchase of exam %d by learner %d has no questions", apperrors.ErrNotFound, examID, learnerID)
	}
	return ids, nil
}

// timeSeededRand - зерно из текущего времени и ключа: общие и уникальные пулы не обязаны воспроизводиться
func (e *Engine) timeSeededRand(key string) *rand.Rand {
	return newRand(uint64(e.clock.Now().UnixNano()) ^ keyHash(key))
}

func countReused(ids []uint, history [][]uint) int {
	seen := make(map[uint]struct{})
	for _, batch := range history {
		for _, id := range batch {
			seen[id] = struct{}{}
		}
	}
	n := 0
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			n++
		}
	}
	return n
}

func hitOrMiss(hit bool) string {
	if hit {
		return resultHit
	}
	return resultMiss
}
