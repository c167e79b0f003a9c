package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/yourusername/exam-pool/internal/domain/entity"
	"github.com/yourusername/exam-pool/internal/domain/repository"
	apperrors "github.com/yourusername/exam-pool/internal/pkg/errors"
)

// PurchaseRepo реализует repository.PurchaseRepository и poolcache.PurchaseLedger
type PurchaseRepo struct {
	db *gorm.DB
}

// NewPurchaseRepo создает новый репозиторий журнала покупок
func NewPurchaseRepo(db *gorm.DB) *PurchaseRepo {
	return &PurchaseRepo{db: db}
}

// Create сохраняет покупку.
// Уникальный индекс (user_id, exam_id) не даёт купить экзамен дважды.
func (r *PurchaseRepo) Create(ctx context.Context, purchase *entity.ExamPurchase) error {
	if len(purchase.QuestionIDs) == 0 {
		return repository.ErrEmptyQuestionIDs
	}
	if purchase.PurchasedAt.IsZero() {
		purchase.PurchasedAt = time.Now().UTC()
	}

	if err := r.db.WithContext(ctx).Create(purchase).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: exam #%d already purchased by user #%d", apperrors.ErrConflict, purchase.ExamID, purchase.UserID)
		}
		return fmt.Errorf("create purchase (user %d, exam %d): %w", purchase.UserID, purchase.ExamID, err)
	}
	return nil
}

// GetByUserAndExam возвращает покупку экзамена пользователем
func (r *PurchaseRepo) GetByUserAndExam(ctx context.Context, userID, examID uint) (*entity.ExamPurchase, error) {
	var purchase entity.ExamPurchase
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND exam_id = ?", userID, examID).
		First(&purchase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &purchase, nil
}

// GetPurchasedQuestions возвращает исходный набор вопросов купленного экзамена
func (r *PurchaseRepo) GetPurchasedQuestions(ctx context.Context, userID, examID uint) ([]uint, error) {
	purchase, err := r.GetByUserAndExam(ctx, userID, examID)
	if err != nil {
		return nil, err
	}
	return []uint(purchase.QuestionIDs), nil
}

// ListSince возвращает покупки с момента since в порядке покупки
func (r *PurchaseRepo) ListSince(ctx context.Context, since time.Time) ([]entity.ExamPurchase, error) {
	var purchases []entity.ExamPurchase
	err := r.db.WithContext(ctx).
		Where("purchased_at >= ?", since).
		Order("purchased_at ASC, id ASC").
		Find(&purchases).Error
	if err != nil {
		return nil, err
	}
	return purchases, nil
}

// isUniqueViolation проверяет Postgres unique violation (23505) для pgconn и lib/pq драйверов
func isUniqueViolation(err error) bool {
	// pgx/v5 driver (pgconn.PgError)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	// lib/pq driver
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return false
}
