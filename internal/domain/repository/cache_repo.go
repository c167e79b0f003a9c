package repository

import (
	"context"
	"time"
)

// CacheRepository определяет методы для работы с кешем списков кандидатов.
// Промах кеша возвращается как apperrors.ErrNotFound.
type CacheRepository interface {
	SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	// DeleteByPrefix удаляет все ключи с префиксом и возвращает их количество
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}
