package poolcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptSeed(t *testing.T) {
	assert.Equal(t, attemptSeed(1, 2, 3), attemptSeed(1, 2, 3))
	assert.NotEqual(t, attemptSeed(1, 2, 3), attemptSeed(1, 2, 4))
	assert.NotEqual(t, attemptSeed(1, 2, 3), attemptSeed(2, 1, 3))
}

func TestUniqueCandidates(t *testing.T) {
	in := []uint{5, 3, 5, 1, 3}
	assert.Equal(t, []uint{1, 3, 5}, uniqueCandidates(in))
	assert.Equal(t, []uint{5, 3, 5, 1, 3}, in, "исходный срез не меняется")
}

func TestSelectQuestions_PrefersFresh(t *testing.T) {
	candidates := questionBank(30)
	history := [][]uint{questionBank(10)}

	selected, reused := selectQuestions(candidates, history, 20, newRand(42))

	require.Len(t, selected, 20)
	assert.Equal(t, 0, reused)
	assert.Equal(t, 0, intersection(selected, history[0]), "при достатке свежих вопросов пересечения нет")
}

// TestSelectQuestions_OldestFirstRelaxation - при нехватке свежих первыми берутся вопросы самой старой выдачи
func TestSelectQuestions_OldestFirstRelaxation(t *testing.T) {
	candidates := questionBank(10)
	history := [][]uint{
		{1, 2, 3, 4}, // самая старая
		{5, 6, 7, 8},
	}

	selected, reused := selectQuestions(candidates, history, 6, newRand(7))

	require.Len(t, selected, 6)
	assert.Equal(t, 4, reused)
	assert.ElementsMatch(t, []uint{1, 2, 3, 4, 9, 10}, selected)
}

// TestSelectQuestions_MostRecentIssueWins - вопрос, выданный в двух наборах, относится к более новому
func TestSelectQuestions_MostRecentIssueWins(t *testing.T) {
	candidates := []uint{1, 2, 3}
	history := [][]uint{
		{1, 2},
		{2, 3},
	}

	selected, reused := selectQuestions(candidates, history, 1, newRand(1))

	assert.Equal(t, []uint{1}, selected)
	assert.Equal(t, 1, reused)
}

func TestSelectQuestions_Deterministic(t *testing.T) {
	candidates := questionBank(50)

	first, _ := selectQuestions(candidates, nil, 20, newRand(attemptSeed(1, 1, 1)))
	second, _ := selectQuestions(candidates, nil, 20, newRand(attemptSeed(1, 1, 1)))
	other, _ := selectQuestions(candidates, nil, 20, newRand(attemptSeed(1, 1, 2)))

	assert.Equal(t, first, second, "одинаковое зерно - одинаковая последовательность")
	assert.NotEqual(t, first, other)
}

func TestOverlapFraction(t *testing.T) {
	assert.Equal(t, 0.0, overlapFraction(0, 0))
	assert.Equal(t, 0.25, overlapFraction(5, 20))
}
