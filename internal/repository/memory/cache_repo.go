package memory

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"

	apperrors "github.com/yourusername/exam-pool/internal/pkg/errors"
)

// CacheRepo реализует repository.CacheRepository в памяти процесса.
// Используется, когда Redis не настроен. Значения хранятся как JSON,
// чтобы поведение совпадало с Redis-реализацией (копия при каждом чтении).
type CacheRepo struct {
	cache *cache.Cache
}

// NewCacheRepo создает кеш с TTL по умолчанию и периодом очистки просроченных записей
func NewCacheRepo(defaultExpiration, cleanupInterval time.Duration) *CacheRepo {
	return &CacheRepo{cache: cache.New(defaultExpiration, cleanupInterval)}
}

// SetJSON сохраняет структуру JSON в кеше; expiration <= 0 - TTL по умолчанию
func (r *CacheRepo) SetJSON(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if expiration <= 0 {
		expiration = cache.DefaultExpiration
	}
	r.cache.Set(key, data, expiration)
	return nil
}

// GetJSON получает структуру JSON из кеша
func (r *CacheRepo) GetJSON(_ context.Context, key string, dest interface{}) error {
	obj, found := r.cache.Get(key)
	if !found {
		return apperrors.ErrNotFound
	}
	return json.Unmarshal(obj.([]byte), dest)
}

// Delete удаляет значения из кеша
func (r *CacheRepo) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		r.cache.Delete(key)
	}
	return nil
}

// DeleteByPrefix удаляет все ключи с префиксом
func (r *CacheRepo) DeleteByPrefix(_ context.Context, prefix string) (int, error) {
	deleted := 0
	for key := range r.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			r.cache.Delete(key)
			deleted++
		}
	}
	return deleted, nil
}

// ItemCount возвращает число записей (включая ещё не очищенные просроченные)
func (r *CacheRepo) ItemCount() int {
	return r.cache.ItemCount()
}
