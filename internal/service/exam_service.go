package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/exam-pool/internal/domain/entity"
	"github.com/yourusername/exam-pool/internal/domain/repository"
	apperrors "github.com/yourusername/exam-pool/internal/pkg/errors"
	"github.com/yourusername/exam-pool/internal/pkg/logger"
	"github.com/yourusername/exam-pool/internal/service/poolcache"
)

// ExamService - фасад хоста над движком пулов: выдаёт вопросы с содержимым
// и ведёт журнал покупок.
type ExamService struct {
	engine     *poolcache.Engine
	questions  repository.QuestionRepository
	purchases  repository.PurchaseRepository
	candidates *CandidateService
	log        *logger.Logger
}

// NewExamService создает новый сервис экзаменов; candidates может быть nil
func NewExamService(
	engine *poolcache.Engine,
	questions repository.QuestionRepository,
	purchases repository.PurchaseRepository,
	candidates *CandidateService,
	log *logger.Logger,
) *ExamService {
	if log == nil {
		log = logger.Nop()
	}
	return &ExamService{
		engine:     engine,
		questions:  questions,
		purchases:  purchases,
		candidates: candidates,
		log:        log.With("component", "exam"),
	}
}

// ExamQuestions - выданный набор вопросов с содержимым
type ExamQuestions struct {
	QuestionIDs []uint              `json:"question_ids"`
	Questions   []entity.Question   `json:"questions"`
	CacheInfo   poolcache.CacheInfo `json:"cache_info"`
}

// StartAttempt выдаёт пул вопросов для попытки ученика
func (s *ExamService) StartAttempt(ctx context.Context, criteria poolcache.PoolSelectionCriteria, learnerID, examID uint) (*ExamQuestions, error) {
	ids, err := s.engine.GetPoolForAttempt(ctx, criteria, learnerID, examID)
	if err != nil {
		return nil, err
	}
	return s.withContent(ctx, ids, poolcache.CacheInfo{})
}

// PurchaseExam выдаёт вопросы новой покупки и сохраняет её в журнал.
// Повторная покупка того же экзамена → apperrors.ErrConflict.
func (s *ExamService) PurchaseExam(ctx context.Context, cfg poolcache.PurchaseConfig) (*ExamQuestions, error) {
	if cfg.IsRepetition {
		return nil, fmt.Errorf("%w: use RepeatExam for repetitions", apperrors.ErrValidation)
	}
	if cfg.ExamID == 0 {
		return nil, fmt.Errorf("%w: exam id is required for purchase", apperrors.ErrValidation)
	}

	existing, err := s.purchases.GetByUserAndExam(ctx, cfg.LearnerID, cfg.ExamID)
	switch {
	case err == nil && existing != nil:
		return nil, fmt.Errorf("%w: exam #%d already purchased by user #%d", apperrors.ErrConflict, cfg.ExamID, cfg.LearnerID)
	case err != nil && !errors.Is(err, apperrors.ErrNotFound):
		return nil, fmt.Errorf("failed to check purchase: %w", err)
	}

	ids, info, err := s.engine.GetExamQuestions(ctx, cfg)
	if err != nil {
		return nil, err
	}

	purchase := &entity.ExamPurchase{
		UserID:      cfg.LearnerID,
		ExamID:      cfg.ExamID,
		SubjectID:   cfg.SubjectID,
		QuestionIDs: entity.UintArray(ids),
		CacheType:   info.Type,
	}
	if err := s.purchases.Create(ctx, purchase); err != nil {
		// Покупка не состоялась: движок не должен считать её выданной
		s.engine.CancelExamPurchase(cfg.LearnerID, cfg.SubjectID, info.PurchaseSequence)
		s.log.Warn("[ExamService] Не удалось сохранить покупку, выдача отменена",
			"user_id", cfg.LearnerID, "exam_id", cfg.ExamID, "purchase", info.PurchaseSequence, "error", err)
		return nil, fmt.Errorf("failed to save purchase: %w", err)
	}
	if err := s.engine.RecordExamPurchase(cfg.LearnerID, cfg.ExamID, cfg.SubjectID, ids); err != nil {
		return nil, err
	}

	s.log.Info("[ExamService] Экзамен куплен",
		"user_id", cfg.LearnerID, "exam_id", cfg.ExamID, "subject_id", cfg.SubjectID,
		"cache_type", info.Type, "cache_hit", info.CacheHit, "questions", len(ids))
	return s.withContent(ctx, ids, info)
}

// RepeatExam возвращает исходный набор вопросов купленного экзамена.
// При исчерпании лимита возвращает poolcache.ErrRepetitionLimitExceeded вместе с CacheInfo.
func (s *ExamService) RepeatExam(ctx context.Context, learnerID, examID uint) (*ExamQuestions, error) {
	cfg, err := poolcache.NewPurchaseConfig(0, learnerID, examID, true, poolcache.PoolSelectionCriteria{})
	if err != nil {
		return nil, err
	}

	ids, info, err := s.engine.GetExamQuestions(ctx, cfg)
	if err != nil {
		if errors.Is(err, poolcache.ErrRepetitionLimitExceeded) {
			return &ExamQuestions{QuestionIDs: []uint{}, Questions: []entity.Question{}, CacheInfo: info}, err
		}
		return nil, err
	}
	return s.withContent(ctx, ids, info)
}

// RestorePurchaseHistory переносит журнал покупок в память движка,
// чтобы разделение на общие и уникальные пулы пережило перезапуск.
func (s *ExamService) RestorePurchaseHistory(ctx context.Context, since time.Time) (int, error) {
	purchases, err := s.purchases.ListSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("failed to list purchases: %w", err)
	}

	restored := 0
	for _, p := range purchases {
		if err := s.engine.RecordExamPurchase(p.UserID, p.ExamID, p.SubjectID, p.QuestionIDs); err != nil {
			s.log.Warn("[ExamService] Пропущена запись журнала покупок", "purchase_id", p.ID, "error", err)
			continue
		}
		restored++
	}
	s.log.Info("[ExamService] Журнал покупок восстановлен", "since", since, "restored", restored, "total", len(purchases))
	return restored, nil
}

// ClearSubject сбрасывает пулы предмета и закешированные списки кандидатов
func (s *ExamService) ClearSubject(ctx context.Context, subjectID uint) (int, error) {
	removed := s.engine.ClearSubjectCache(subjectID)
	if s.candidates == nil {
		return removed, nil
	}
	if _, err := s.candidates.InvalidateSubject(ctx, subjectID); err != nil {
		return removed, fmt.Errorf("failed to invalidate candidates of subject %d: %w", subjectID, err)
	}
	return removed, nil
}

func (s *ExamService) withContent(ctx context.Context, ids []uint, info poolcache.CacheInfo) (*ExamQuestions, error) {
	questions, err := s.questions.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}
	if len(questions) != len(ids) {
		// Вопрос удалён из банка после сборки пула: отдаём то, что есть
		s.log.Warn("[ExamService] Часть вопросов пула не найдена", "expected", len(ids), "found", len(questions))
	}
	return &ExamQuestions{QuestionIDs: ids, Questions: questions, CacheInfo: info}, nil
}
