package repository

import (
	"context"

	"github.com/yourusername/exam-pool/internal/domain/entity"
)

// CandidateFilter - условия отбора кандидатов из банка вопросов.
// Пустые поля не ограничивают выборку; SubjectID = 0 означает любой предмет.
type CandidateFilter struct {
	SubjectID  uint
	Categories []string
	Difficulty string
	Tags       []string
	Limit      int
}

// QuestionRepository определяет методы для работы с банком вопросов
type QuestionRepository interface {
	// FindCandidateIDs возвращает до Limit случайных ID вопросов, подходящих под фильтр
	FindCandidateIDs(ctx context.Context, filter CandidateFilter) ([]uint, error)
	// GetByIDs возвращает вопросы по списку ID в порядке ids
	GetByIDs(ctx context.Context, ids []uint) ([]entity.Question, error)
	CreateBatch(ctx context.Context, questions []entity.Question) error
	CountBySubject(ctx context.Context, subjectID uint) (int64, error)
}
