package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/yourusername/exam-pool/internal/domain/entity"
	"github.com/yourusername/exam-pool/internal/domain/repository"
)

// QuestionRepo реализует repository.QuestionRepository
type QuestionRepo struct {
	db *gorm.DB
}

// NewQuestionRepo создает новый репозиторий вопросов
func NewQuestionRepo(db *gorm.DB) *QuestionRepo {
	return &QuestionRepo{db: db}
}

// candidateQuery собирает условия фильтра кандидатов
func candidateQuery(db *gorm.DB, filter repository.CandidateFilter) (*gorm.DB, error) {
	q := db.Model(&entity.Question{})
	if filter.SubjectID != 0 {
		q = q.Where("subject_id = ?", filter.SubjectID)
	}
	if len(filter.Categories) > 0 {
		q = q.Where("category IN ?", filter.Categories)
	}
	if filter.Difficulty != "" {
		q = q.Where("difficulty = ?", filter.Difficulty)
	}
	if len(filter.Tags) > 0 {
		// jsonb containment: у вопроса должны быть все теги фильтра
		tags, err := json.Marshal(filter.Tags)
		if err != nil {
			return nil, fmt.Errorf("marshal tags filter: %w", err)
		}
		q = q.Where("tags @> ?::jsonb", string(tags))
	}
	return q, nil
}

// FindCandidateIDs возвращает случайные ID вопросов, подходящих под фильтр
func (r *QuestionRepo) FindCandidateIDs(ctx context.Context, filter repository.CandidateFilter) ([]uint, error) {
	q, err := candidateQuery(r.db.WithContext(ctx), filter)
	if err != nil {
		return nil, err
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var ids []uint
	if err := q.Order("RANDOM()").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("find candidate ids (subject %d): %w", filter.SubjectID, err)
	}
	return ids, nil
}

// GetByIDs возвращает вопросы в порядке переданных ID
func (r *QuestionRepo) GetByIDs(ctx context.Context, ids []uint) ([]entity.Question, error) {
	if len(ids) == 0 {
		return []entity.Question{}, nil
	}
	var questions []entity.Question
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&questions).Error; err != nil {
		return nil, err
	}
	return entity.OrderByIDs(questions, ids), nil
}

// CreateBatch создает пакет вопросов
func (r *QuestionRepo) CreateBatch(ctx context.Context, questions []entity.Question) error {
	if len(questions) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Устанавливаем кодировку UTF-8 внутри транзакции
		if err := tx.Exec("SET CLIENT_ENCODING TO 'UTF8'").Error; err != nil {
			return err
		}
		return tx.CreateInBatches(&questions, 500).Error
	})
}

// CountBySubject возвращает количество вопросов предмета (0 - весь банк)
func (r *QuestionRepo) CountBySubject(ctx context.Context, subjectID uint) (int64, error) {
	var count int64
	q := r.db.WithContext(ctx).Model(&entity.Question{})
	if subjectID != 0 {
		q = q.Where("subject_id = ?", subjectID)
	}
	err := q.Count(&count).Error
	return count, err
}
