package poolcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yourusername/exam-pool/internal/pkg/errors"
)

func TestNewPoolSelectionCriteria_Normalizes(t *testing.T) {
	c, err := NewPoolSelectionCriteria([]string{" History", "math", "history", ""}, " HARD ", []string{"b", "a"}, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"history", "math"}, c.Categories())
	assert.Equal(t, "hard", c.Difficulty())
	assert.Equal(t, []string{"a", "b"}, c.Tags())
	assert.Equal(t, 10, c.Quantity())
	assert.Equal(t, 0, c.AttemptNumber())
	assert.Equal(t, uint(0), c.LearnerID())

	// Геттеры возвращают копии
	c.Categories()[0] = "changed"
	assert.Equal(t, "history", c.Categories()[0])
}

func TestNewPoolSelectionCriteria_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		quantity int
		opts     []CriteriaOption
	}{
		{name: "нулевое количество", quantity: 0},
		{name: "отрицательное количество", quantity: -1},
		{name: "отрицательная попытка", quantity: 5, opts: []CriteriaOption{WithAttemptNumber(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPoolSelectionCriteria(nil, "", nil, tt.quantity, tt.opts...)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestSignature(t *testing.T) {
	a, err := NewPoolSelectionCriteria([]string{"math", "history"}, "easy", []string{"x"}, 10)
	require.NoError(t, err)
	b, err := NewPoolSelectionCriteria([]string{"HISTORY", "math"}, "Easy", []string{"x"}, 10, WithAttemptNumber(3), WithLearner(5))
	require.NoError(t, err)
	c, err := NewPoolSelectionCriteria([]string{"math", "history"}, "easy", []string{"x"}, 11)
	require.NoError(t, err)

	assert.Len(t, a.Signature(), 16)
	assert.Equal(t, a.Signature(), b.Signature(), "попытка и ученик не входят в подпись")
	assert.NotEqual(t, a.Signature(), c.Signature())
}

func TestDecodePoolSelectionCriteria(t *testing.T) {
	c, err := DecodePoolSelectionCriteria(map[string]any{
		"categories":     []string{"math"},
		"difficulty":     "easy",
		"quantity":       "15",
		"attempt_number": 2,
		"learner_id":     9,
	})
	require.NoError(t, err)
	assert.Equal(t, 15, c.Quantity())
	assert.Equal(t, 2, c.AttemptNumber())
	assert.Equal(t, uint(9), c.LearnerID())

	_, err = DecodePoolSelectionCriteria(map[string]any{"quantity": 5, "colour": "red"})
	assert.ErrorIs(t, err, apperrors.ErrValidation, "неизвестное поле отклоняется")
}

func TestDecodePurchaseConfig(t *testing.T) {
	cfg, err := DecodePurchaseConfig(map[string]any{
		"subject_id": 3,
		"learner_id": 1,
		"categories": []string{"math"},
		"quantity":   20,
	})
	require.NoError(t, err)
	assert.Equal(t, uint(3), cfg.SubjectID)
	assert.Equal(t, 20, cfg.Criteria.Quantity())
	assert.False(t, cfg.IsRepetition)

	rep, err := DecodePurchaseConfig(map[string]any{
		"learner_id":    1,
		"exam_id":       7,
		"is_repetition": true,
	})
	require.NoError(t, err)
	assert.True(t, rep.IsRepetition)
	assert.True(t, rep.Criteria.IsZero(), "для повтора критерии не нужны")

	_, err = DecodePurchaseConfig(map[string]any{"learner_id": 1, "is_repetition": true})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = DecodePurchaseConfig(map[string]any{"learner_id": 1, "subject_id": 1, "quantity": 5, "attempt_number": 1})
	assert.ErrorIs(t, err, apperrors.ErrValidation, "номер попытки не относится к покупке")
}
