package poolcache

import (
	"container/list"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/exam-pool/internal/pkg/logger"
)

// Названия уровней кеша (используются в статистике и атрибутах метрик)
const (
	TierQuestionPool = "question_pool"
	TierShared       = "shared"
	TierUnique       = "unique"
)

// CachedPool - упорядоченный набор вопросов в кеше.
// Наружу всегда отдаётся копия.
type CachedPool struct {
	VersionID        string
	QuestionIDs      []uint
	CreatedAt        time.Time
	ExpiresAt        time.Time
	UsageCount       int64
	PurchaseSequence int
}

func (p CachedPool) clone() CachedPool {
	p.QuestionIDs = slices.Clone(p.QuestionIDs)
	return p
}

// expired: чтение в момент истечения или позже - промах
func (p CachedPool) expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// SharedCacheEntry - общий пул предмета, номер покупки всегда 1
type SharedCacheEntry struct {
	SubjectID      uint
	Pool           CachedPool
	PurchaseNumber int
}

// entryTags - метки записи для выборочной очистки
type entryTags struct {
	SubjectID uint
	LearnerID uint
}

type arenaEntry struct {
	key  string
	tags entryTags
	pool CachedPool
	elem *list.Element
}

type arenaCounters struct {
	hits        int64
	misses      int64
	inserts     int64
	evictions   int64
	expirations int64
	collisions  int64
	degraded    int64
}

// arena - ограниченное хранилище пулов: map по ключу + список в порядке вставки.
// TTL одинаков для всех записей арены, поэтому порядок вставки совпадает с порядком истечения,
// и вытеснение по ёмкости удаляет самую старую запись за O(1).
type arena struct {
	tier     string
	ttl      time.Duration
	capacity int
	clock    Clock
	log      *logger.Logger
	metrics  *engineMetrics

	mu       sync.Mutex
	entries  map[string]*arenaEntry
	order    *list.List // *arenaEntry, самая старая - в начале
	counters arenaCounters
}

func newArena(tier string, ttl time.Duration, capacity int, clock Clock, log *logger.Logger, metrics *engineMetrics) *arena {
	return &arena{
		tier:     tier,
		ttl:      ttl,
		capacity: capacity,
		clock:    clock,
		log:      log,
		metrics:  metrics,
		entries:  make(map[string]*arenaEntry, capacity),
		order:    list.New(),
	}
}

// lookup возвращает копию живой записи и засчитывает попадание.
// Просроченная запись удаляется; промах засчитывает тот, кто будет строить пул (recordMiss).
func (a *arena) lookup(key string) (CachedPool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[key]
	if !ok {
		return CachedPool{}, false
	}
	if e.pool.expired(a.clock.Now()) {
		a.removeLocked(e)
		a.counters.expirations++
		return CachedPool{}, false
	}
	e.pool.UsageCount++
	a.counters.hits++
	return e.pool.clone(), true
}

// peek проверяет наличие живой записи без учёта в счётчиках
func (a *arena) peek(key string) (CachedPool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[key]
	if !ok || e.pool.expired(a.clock.Now()) {
		return CachedPool{}, false
	}
	return e.pool.clone(), true
}

// touch засчитывает попадание вызывающему, который дождался чужой сборки.
// Если запись уже вытеснена или просрочена, попадание не засчитывается.
func (a *arena) touch(key string) (CachedPool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[key]
	if !ok || e.pool.expired(a.clock.Now()) {
		return CachedPool{}, false
	}
	e.pool.UsageCount++
	a.counters.hits++
	return e.pool.clone(), true
}

func (a *arena) recordMiss() {
	a.mu.Lock()
	a.counters.misses++
	a.mu.Unlock()
}

func (a *arena) recordDegraded() {
	a.mu.Lock()
	a.counters.degraded++
	a.mu.Unlock()
}

// insert кладёт новый пул под ключ. Если под ключом уже есть живая запись,
// это коллизия: она логируется, а существующая запись остаётся и возвращается (inserted=false).
func (a *arena) insert(key string, tags entryTags, ids []uint, purchaseSeq int) (CachedPool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	if e, ok := a.entries[key]; ok {
		if !e.pool.expired(now) {
			a.counters.collisions++
			a.log.Warn("[PoolCache] Коллизия ключа кеша, существующая запись сохранена",
				"tier", a.tier, "key", key, "error", ErrCacheKeyCollision)
			return e.pool.clone(), false
		}
		a.removeLocked(e)
		a.counters.expirations++
	}

	a.purgeExpiredLocked(now)
	for a.order.Len() >= a.capacity {
		oldest := a.order.Front().Value.(*arenaEntry)
		a.removeLocked(oldest)
		a.counters.evictions++
		a.metrics.eviction(a.tier)
		a.log.Debug("[PoolCache] Вытеснена самая старая запись", "tier", a.tier, "key", oldest.key)
	}

	e := &arenaEntry{
		key:  key,
		tags: tags,
		pool: CachedPool{
			VersionID:        uuid.NewString(),
			QuestionIDs:      slices.Clone(ids),
			CreatedAt:        now,
			ExpiresAt:        now.Add(a.ttl),
			PurchaseSequence: purchaseSeq,
		},
	}
	e.elem = a.order.PushBack(e)
	a.entries[key] = e
	a.counters.inserts++
	return e.pool.clone(), true
}

// purgeExpiredLocked снимает просроченные записи с начала списка
func (a *arena) purgeExpiredLocked(now time.Time) {
	for front := a.order.Front(); front != nil; front = a.order.Front() {
		e := front.Value.(*arenaEntry)
		if !e.pool.expired(now) {
			return
		}
		a.removeLocked(e)
		a.counters.expirations++
	}
}

func (a *arena) removeLocked(e *arenaEntry) {
	a.order.Remove(e.elem)
	delete(a.entries, e.key)
}

func (a *arena) remove(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[key]
	if !ok {
		return false
	}
	a.removeLocked(e)
	return true
}

// removeIf удаляет записи, для которых pred вернул true; возвращает число удалённых
func (a *arena) removeIf(pred func(key string, tags entryTags) bool) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for elem := a.order.Front(); elem != nil; {
		next := elem.Next()
		e := elem.Value.(*arenaEntry)
		if pred(e.key, e.tags) {
			a.removeLocked(e)
			removed++
		}
		elem = next
	}
	return removed
}

func (a *arena) clear() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.order.Len()
	a.entries = make(map[string]*arenaEntry, a.capacity)
	a.order.Init()
	return n
}

// sweepOne удаляет одну просроченную запись; блокировка берётся на каждое удаление,
// чтобы фоновая очистка не задерживала запросы
func (a *arena) sweepOne() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	front := a.order.Front()
	if front == nil {
		return false
	}
	e := front.Value.(*arenaEntry)
	if !e.pool.expired(a.clock.Now()) {
		return false
	}
	a.removeLocked(e)
	a.counters.expirations++
	return true
}

func (a *arena) sweep() int {
	n := 0
	for a.sweepOne() {
		n++
	}
	return n
}

func (a *arena) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.order.Len()
}

// EntryUsage - строка топа записей по использованию
type EntryUsage struct {
	Key        string    `json:"key"`
	UsageCount int64     `json:"usage_count"`
	Questions  int       `json:"questions"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type arenaSnapshot struct {
	tier       string
	entries    int
	capacity   int
	totalUsage int64
	counters   arenaCounters
	top        []EntryUsage
}

// snapshot собирает статистику только по живым записям; арена не изменяется
func (a *arena) snapshot(topN int) arenaSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	s := arenaSnapshot{
		tier:     a.tier,
		capacity: a.capacity,
		counters: a.counters,
	}
	usage := make([]EntryUsage, 0, a.order.Len())
	for elem := a.order.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*arenaEntry)
		if e.pool.expired(now) {
			continue
		}
		s.entries++
		s.totalUsage += e.pool.UsageCount
		usage = append(usage, EntryUsage{
			Key:        e.key,
			UsageCount: e.pool.UsageCount,
			Questions:  len(e.pool.QuestionIDs),
			CreatedAt:  e.pool.CreatedAt,
			ExpiresAt:  e.pool.ExpiresAt,
		})
	}

	slices.SortStableFunc(usage, func(x, y EntryUsage) int {
		switch {
		case x.UsageCount > y.UsageCount:
			return -1
		case x.UsageCount < y.UsageCount:
			return 1
		}
		return 0
	})
	if topN > 0 && len(usage) > topN {
		usage = usage[:topN]
	}
	s.top = usage
	return s
}
