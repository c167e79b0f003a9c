package poolcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yourusername/exam-pool/internal/pkg/errors"
)

// TestGetPoolForAttempt_NoOverlapWhileFreshRemain - пока хватает свежих вопросов, попытки не пересекаются
func TestGetPoolForAttempt_NoOverlapWhileFreshRemain(t *testing.T) {
	ctx := context.Background()
	source := newBankSource(100)
	engine := newTestEngine(t, nil, source, newFakeClock(), nil)
	criteria := mustCriteria(t, 20)

	var attempts [][]uint
	for i := 0; i < 3; i++ {
		ids, err := engine.GetPoolForAttempt(ctx, criteria, 1, 10)
		require.NoError(t, err)
		require.Len(t, ids, 20)
		attempts = append(attempts, ids)
	}

	assert.Equal(t, 0, intersection(attempts[0], attempts[1]))
	assert.Equal(t, 0, intersection(attempts[0], attempts[2]))
	assert.Equal(t, 0, intersection(attempts[1], attempts[2]))

	// Свежих вопросов не осталось (источник отдаёт 60) - возвращается набор самой старой попытки
	fourth, err := engine.GetPoolForAttempt(ctx, criteria, 1, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, attempts[0], fourth)

	stats := engine.GetCacheStats().QuestionPools
	assert.Equal(t, int64(1), stats.DegradedBuilds, "превышение MaxAttemptOverlap учитывается")

	entry, ok := engine.attempts.Get(1, 10)
	require.True(t, ok)
	assert.Equal(t, 4, entry.AttemptCount)
}

// TestGetPoolForAttempt_Deterministic - одинаковые входные данные дают одинаковую последовательность
func TestGetPoolForAttempt_Deterministic(t *testing.T) {
	ctx := context.Background()
	criteria := mustCriteria(t, 15)

	first := newTestEngine(t, nil, newBankSource(100), newFakeClock(), nil)
	second := newTestEngine(t, nil, newBankSource(100), newFakeClock(), nil)

	a, err := first.GetPoolForAttempt(ctx, criteria, 3, 30)
	require.NoError(t, err)
	b, err := second.GetPoolForAttempt(ctx, criteria, 3, 30)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

// TestGetPoolForAttempt_ReplayIsCacheHit - явный номер попытки возвращает уже выданный пул
func TestGetPoolForAttempt_ReplayIsCacheHit(t *testing.T) {
	ctx := context.Background()
	source := newBankSource(100)
	engine := newTestEngine(t, nil, source, newFakeClock(), nil)

	first, err := engine.GetPoolForAttempt(ctx, mustCriteria(t, 10), 1, 10)
	require.NoError(t, err)

	replay, err := engine.GetPoolForAttempt(ctx, mustCriteria(t, 10, WithAttemptNumber(1)), 1, 10)
	require.NoError(t, err)

	assert.Equal(t, first, replay)
	assert.Equal(t, int32(1), source.calls.Load(), "повтор попытки не обращается к источнику")
	assert.Equal(t, 2, engine.attempts.AttemptNumber(1, 10), "счётчик попыток не меняется")

	stats := engine.GetCacheStats().QuestionPools
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

// TestGetPoolForAttempt_ConcurrentCallersBuildOnce - параллельные запросы одной попытки строят пул один раз
func TestGetPoolForAttempt_ConcurrentCallersBuildOnce(t *testing.T) {
	ctx := context.Background()
	source := newBankSource(100)
	source.delay = 50 * time.Millisecond
	engine := newTestEngine(t, nil, source, newFakeClock(), nil)
	criteria := mustCriteria(t, 20)

	const callers = 16
	results := make([][]uint, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.GetPoolForAttempt(ctx, criteria, 1, 10)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), source.calls.Load(), "пул попытки строится один раз")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, 2, engine.attempts.AttemptNumber(1, 10), "все вызовы относятся к первой попытке")

	stats := engine.GetCacheStats().QuestionPools
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(callers-1), stats.Hits)
}

func TestGetPoolForAttempt_InsufficientCandidates(t *testing.T) {
	ctx := context.Background()
	source := new(MockCandidateSource)
	source.On("FetchCandidates", mock.Anything, mock.MatchedBy(func(req CandidateRequest) bool {
		return req.Quantity == 30
	})).Return([]uint{1, 2, 3, 3, 4}, nil)

	engine := newTestEngine(t, nil, source, newFakeClock(), nil)

	ids, err := engine.GetPoolForAttempt(ctx, mustCriteria(t, 10), 1, 10)

	assert.Nil(t, ids)
	require.ErrorIs(t, err, ErrInsufficientCandidates)
	var insufficient *InsufficientCandidatesError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 10, insufficient.Requested)
	assert.Equal(t, 4, insufficient.Available, "дубликаты не считаются")
	assert.Equal(t, 1, engine.attempts.AttemptNumber(1, 10), "неудачная сборка не записывается в историю")
	source.AssertExpectations(t)
}

func TestGetPoolForAttempt_SourceError(t *testing.T) {
	ctx := context.Background()
	source := new(MockCandidateSource)
	sourceErr := errors.New("db is down")
	source.On("FetchCandidates", mock.Anything, mock.Anything).Return(nil, sourceErr)

	engine := newTestEngine(t, nil, source, newFakeClock(), nil)

	_, err := engine.GetPoolForAttempt(ctx, mustCriteria(t, 5), 1, 10)

	assert.ErrorIs(t, err, sourceErr)
}

func TestGetPoolForAttempt_Validation(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil, newBankSource(10), newFakeClock(), nil)

	_, err := engine.GetPoolForAttempt(ctx, PoolSelectionCriteria{}, 1, 10)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = engine.GetPoolForAttempt(ctx, mustCriteria(t, 5), 0, 10)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = engine.GetPoolForAttempt(ctx, mustCriteria(t, 5, WithLearner(2)), 1, 10)
	assert.ErrorIs(t, err, apperrors.ErrValidation, "критерии другого ученика")
}
