package repository

import (
	"context"
	"time"

	"github.com/yourusername/exam-pool/internal/domain/entity"
)

// PurchaseRepository - журнал покупок экзаменов
type PurchaseRepository interface {
	// Create сохраняет покупку; повторная покупка того же экзамена → apperrors.ErrConflict
	Create(ctx context.Context, purchase *entity.ExamPurchase) error
	GetByUserAndExam(ctx context.Context, userID, examID uint) (*entity.ExamPurchase, error)
	// GetPurchasedQuestions возвращает исходный набор вопросов купленного экзамена
	GetPurchasedQuestions(ctx context.Context, userID, examID uint) ([]uint, error)
	// ListSince возвращает покупки начиная с момента since в порядке покупки
	ListSince(ctx context.Context, since time.Time) ([]entity.ExamPurchase, error)
}
