package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yourusername/exam-pool/internal/domain/repository"
	apperrors "github.com/yourusername/exam-pool/internal/pkg/errors"
	"github.com/yourusername/exam-pool/internal/pkg/logger"
	"github.com/yourusername/exam-pool/internal/service/poolcache"
)

const candidateKeyPrefix = "candidates"

// CandidateService отдаёт движку пулов кандидатов из банка вопросов.
// Списки ID кешируются (Redis или память процесса) на candidateTTL.
type CandidateService struct {
	questions repository.QuestionRepository
	cache     repository.CacheRepository
	ttl       time.Duration
	log       *logger.Logger
}

// NewCandidateService создает источник кандидатов; cache может быть nil - тогда без кеша
func NewCandidateService(questions repository.QuestionRepository, cache repository.CacheRepository, ttl time.Duration, log *logger.Logger) *CandidateService {
	if log == nil {
		log = logger.Nop()
	}
	return &CandidateService{
		questions: questions,
		cache:     cache,
		ttl:       ttl,
		log:       log.With("component", "candidates"),
	}
}

func subjectKeyPrefix(subjectID uint) string {
	return fmt.Sprintf("%s:%d:", candidateKeyPrefix, subjectID)
}

// candidateCacheKey - предмет в открытом виде (для инвалидации по префиксу), остальное - SHA-256
func candidateCacheKey(req poolcache.CandidateRequest) string {
	c := req.Criteria
	raw := fmt.Sprintf("c=%s|d=%s|t=%s|n=%d",
		strings.Join(c.Categories(), ","), c.Difficulty(), strings.Join(c.Tags(), ","), req.Quantity)
	sum := sha256.Sum256([]byte(raw))
	return subjectKeyPrefix(req.SubjectID) + hex.EncodeToString(sum[:])
}

// FetchCandidates реализует poolcache.CandidateSource
func (s *CandidateService) FetchCandidates(ctx context.Context, req poolcache.CandidateRequest) ([]uint, error) {
	key := candidateCacheKey(req)

	if s.cache != nil {
		var cached []uint
		err := s.cache.GetJSON(ctx, key, &cached)
		switch {
		case err == nil:
			return cached, nil
		case !errors.Is(err, apperrors.ErrNotFound):
			// Кеш не обязателен: при его недоступности идём в БД
			s.log.Warn("[CandidateService] Ошибка чтения кеша кандидатов", "key", key, "error", err)
		}
	}

	ids, err := s.questions.FindCandidateIDs(ctx, repository.CandidateFilter{
		SubjectID:  req.SubjectID,
		Categories: req.Criteria.Categories(),
		Difficulty: req.Criteria.Difficulty(),
		Tags:       req.Criteria.Tags(),
		Limit:      req.Quantity,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidates: %w", err)
	}

	// Неполный список не кешируем: банк мог пополниться
	if s.cache != nil && len(ids) >= req.Quantity {
		if err := s.cache.SetJSON(ctx, key, ids, s.ttl); err != nil {
			s.log.Warn("[CandidateService] Ошибка записи кеша кандидатов", "key", key, "error", err)
		}
	}
	s.log.Debug("[CandidateService] Кандидаты загружены из БД",
		"subject_id", req.SubjectID, "requested", req.Quantity, "found", len(ids))
	return ids, nil
}

// InvalidateSubject сбрасывает закешированные списки кандидатов предмета
func (s *CandidateService) InvalidateSubject(ctx context.Context, subjectID uint) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.DeleteByPrefix(ctx, subjectKeyPrefix(subjectID))
}

// InvalidateAll сбрасывает все списки кандидатов
func (s *CandidateService) InvalidateAll(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.DeleteByPrefix(ctx, candidateKeyPrefix+":")
}
