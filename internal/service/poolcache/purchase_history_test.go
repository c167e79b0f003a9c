package poolcache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurchaseHistory_BeginCompleteCancel(t *testing.T) {
	clock := newFakeClock()
	tracker := NewPurchaseHistoryTracker(time.Hour, clock)

	assert.Equal(t, 1, tracker.BeginPurchase(1, 100))
	tracker.CompletePurchase(1, 100, 1, []uint{1, 2})

	seq := tracker.BeginPurchase(1, 100)
	assert.Equal(t, 2, seq)
	tracker.CancelPurchase(1, 100, seq)

	stats, ok := tracker.Stats(1, 100)
	require.True(t, ok)
	assert.Equal(t, 1, stats.PurchaseCount, "неудачная покупка откатывается")

	// Откат невозможен, если после неё уже выделена новая покупка
	second := tracker.BeginPurchase(1, 100)
	third := tracker.BeginPurchase(1, 100)
	tracker.CancelPurchase(1, 100, second)
	stats, _ = tracker.Stats(1, 100)
	assert.Equal(t, third, stats.PurchaseCount)
}

func TestPurchaseHistory_CancelFirstPurchaseDropsEntry(t *testing.T) {
	tracker := NewPurchaseHistoryTracker(time.Hour, newFakeClock())

	seq := tracker.BeginPurchase(1, 100)
	tracker.CancelPurchase(1, 100, seq)

	_, ok := tracker.Stats(1, 100)
	assert.False(t, ok)
	assert.Equal(t, 0, tracker.Len())
}

func TestPurchaseHistory_IssuedPoolsOrdered(t *testing.T) {
	tracker := NewPurchaseHistoryTracker(time.Hour, newFakeClock())

	for i := 1; i <= 3; i++ {
		seq := tracker.BeginPurchase(1, 100)
		tracker.CompletePurchase(1, 100, seq, []uint{uint(i)})
	}

	assert.Equal(t, [][]uint{{1}, {2}, {3}}, tracker.IssuedPools(1, 100))
	assert.Nil(t, tracker.IssuedPools(2, 100))
}

// TestPurchaseHistory_RecordExamRaisesCount - восстановление из журнала без предшествующей выдачи
func TestPurchaseHistory_RevokePurchase(t *testing.T) {
	tracker := NewPurchaseHistoryTracker(time.Hour, newFakeClock())
	for i := 1; i <= 3; i++ {
		seq := tracker.BeginPurchase(1, 100)
		tracker.CompletePurchase(1, 100, seq, []uint{uint(i)})
	}

	// Не последняя покупка: набор забывается, номер остаётся занятым
	require.True(t, tracker.RevokePurchase(1, 100, 2))
	stats, _ := tracker.Stats(1, 100)
	assert.Equal(t, 3, stats.PurchaseCount)
	assert.Equal(t, [][]uint{{1}, {3}}, tracker.IssuedPools(1, 100))

	// Последняя покупка: номер освобождается
	require.True(t, tracker.RevokePurchase(1, 100, 3))
	stats, _ = tracker.Stats(1, 100)
	assert.Equal(t, 2, stats.PurchaseCount)

	assert.False(t, tracker.RevokePurchase(1, 100, 7))
	assert.False(t, tracker.RevokePurchase(9, 100, 1))

	require.True(t, tracker.RevokePurchase(1, 100, 2))
	require.True(t, tracker.RevokePurchase(1, 100, 1))
	assert.Equal(t, 0, tracker.Len(), "запись без покупок удаляется")
}

func TestPurchaseHistory_IssuedPoolsExcept(t *testing.T) {
	tracker := NewPurchaseHistoryTracker(time.Hour, newFakeClock())
	for i := 1; i <= 3; i++ {
		seq := tracker.BeginPurchase(1, 100)
		tracker.CompletePurchase(1, 100, seq, []uint{uint(i)})
	}

	assert.Equal(t, [][]uint{{1}, {3}}, tracker.IssuedPoolsExcept(1, 100, 2))
	assert.Equal(t, [][]uint{{1}, {2}, {3}}, tracker.IssuedPoolsExcept(1, 100, 0))
}

func TestPurchaseHistory_RecordExamRaisesCount(t *testing.T) {
	tracker := NewPurchaseHistoryTracker(time.Hour, newFakeClock())

	tracker.RecordExam(1, 7, 100, []uint{1, 2, 3})
	tracker.RecordExam(1, 8, 100, []uint{4, 5, 6})
	tracker.RecordExam(1, 8, 100, []uint{4, 5, 6})

	stats, ok := tracker.Stats(1, 100)
	require.True(t, ok)
	assert.Equal(t, 2, stats.PurchaseCount)
	assert.Equal(t, []uint{7, 8}, stats.ExamIDs)
	assert.Equal(t, [][]uint{{1, 2, 3}, {4, 5, 6}}, tracker.IssuedPools(1, 100))

	ids, ok := tracker.ExamQuestions(1, 7)
	require.True(t, ok)
	assert.Equal(t, []uint{1, 2, 3}, ids)
}

// TestPurchaseHistory_RecordExamAfterPurchase - экзамен, выданный через GetExamQuestions, не увеличивает счётчик
func TestPurchaseHistory_RecordExamAfterPurchase(t *testing.T) {
	tracker := NewPurchaseHistoryTracker(time.Hour, newFakeClock())

	seq := tracker.BeginPurchase(1, 100)
	tracker.CompletePurchase(1, 100, seq, []uint{1, 2})
	tracker.RecordExam(1, 7, 100, []uint{1, 2})

	stats, _ := tracker.Stats(1, 100)
	assert.Equal(t, 1, stats.PurchaseCount)
	assert.Len(t, tracker.IssuedPools(1, 100), 1)
}

func TestPurchaseHistory_SweepDropsExams(t *testing.T) {
	clock := newFakeClock()
	tracker := NewPurchaseHistoryTracker(time.Hour, clock)
	tracker.RecordExam(1, 7, 100, []uint{1})

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, tracker.Sweep(clock.Now()))

	_, ok := tracker.ExamQuestions(1, 7)
	assert.False(t, ok)
}

func TestRepetitionTracker_Cap(t *testing.T) {
	tracker := NewRepetitionTracker(2, time.Hour, newFakeClock())
	seedCalls := 0
	seed := func() ([]uint, error) {
		seedCalls++
		return []uint{4, 5, 6}, nil
	}

	for n := 1; n <= 2; n++ {
		ids, count, err := tracker.Next(1, 7, seed)
		require.NoError(t, err)
		assert.Equal(t, []uint{4, 5, 6}, ids, "повтор возвращает исходный набор без изменений")
		assert.Equal(t, n, count)
	}

	ids, count, err := tracker.Next(1, 7, seed)
	assert.Nil(t, ids)
	assert.Equal(t, 2, count)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRepetitionLimitExceeded))

	var limitErr *RepetitionLimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, 2, limitErr.MaxRepetitions)

	entry, ok := tracker.Get(1, 7)
	require.True(t, ok)
	assert.Equal(t, 2, entry.RepetitionCount, "при отказе счётчик не растёт")
	assert.Equal(t, 1, seedCalls, "исходный набор загружается один раз")
	assert.Equal(t, int64(1), tracker.Denied())
}

func TestRepetitionTracker_ClearResetsDenied(t *testing.T) {
	tracker := NewRepetitionTracker(1, time.Hour, newFakeClock())
	seed := func() ([]uint, error) { return []uint{1}, nil }

	_, _, err := tracker.Next(1, 7, seed)
	require.NoError(t, err)
	_, _, err = tracker.Next(1, 7, seed)
	require.Error(t, err)
	require.Equal(t, int64(1), tracker.Denied())

	tracker.Clear()

	assert.Zero(t, tracker.Denied())
	assert.Zero(t, tracker.Len())
}

func TestRepetitionTracker_SeedError(t *testing.T) {
	tracker := NewRepetitionTracker(3, time.Hour, newFakeClock())
	seedErr := errors.New("ledger down")

	_, _, err := tracker.Next(1, 7, func() ([]uint, error) { return nil, seedErr })

	assert.ErrorIs(t, err, seedErr)
	assert.Equal(t, 0, tracker.Len(), "запись не создаётся без исходного набора")
}
