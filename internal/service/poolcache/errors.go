package poolcache

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientCandidates - источник вернул меньше вопросов, чем запрошено (до исключений).
	// Внутри движка не ретраится: нехватка не исчезнет сама собой.
	ErrInsufficientCandidates = errors.New("insufficient candidates")

	// ErrRepetitionLimitExceeded - ученик исчерпал лимит повторов экзамена
	ErrRepetitionLimitExceeded = errors.New("repetition limit exceeded")

	// ErrCacheKeyCollision - нарушение инварианта ключей; наружу не возвращается, только логируется
	ErrCacheKeyCollision = errors.New("cache key collision")
)

// InsufficientCandidatesError уточняет ErrInsufficientCandidates
type InsufficientCandidatesError struct {
	Requested int
	Available int
}

func (e *InsufficientCandidatesError) Error() string {
	return fmt.Sprintf("insufficient candidates: requested %d, available %d", e.Requested, e.Available)
}

func (e *InsufficientCandidatesError) Unwrap() error { return ErrInsufficientCandidates }

// RepetitionLimitError уточняет ErrRepetitionLimitExceeded
type RepetitionLimitError struct {
	LearnerID      uint
	ExamID         uint
	MaxRepetitions int
}

func (e *RepetitionLimitError) Error() string {
	return fmt.Sprintf("repetition limit exceeded: learner %d, exam %d, max %d", e.LearnerID, e.ExamID, e.MaxRepetitions)
}

func (e *RepetitionLimitError) Unwrap() error { return ErrRepetitionLimitExceeded }
