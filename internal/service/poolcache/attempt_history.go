package poolcache

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// PoolVersion - пул, выданный на конкретной попытке
type PoolVersion struct {
	VersionID     string    `json:"version_id"`
	AttemptNumber int       `json:"attempt_number"`
	QuestionIDs   []uint    `json:"question_ids"`
	IssuedAt      time.Time `json:"issued_at"`
}

// AttemptHistoryEntry - история попыток ученика по экзамену
type AttemptHistoryEntry struct {
	LearnerID     uint          `json:"learner_id"`
	ExamID        uint          `json:"exam_id"`
	AttemptCount  int           `json:"attempt_count"`
	Versions      []PoolVersion `json:"versions"`
	LastAttemptAt time.Time     `json:"last_attempt_at"`
}

func (e *AttemptHistoryEntry) clone() AttemptHistoryEntry {
	out := *e
	out.Versions = make([]PoolVersion, len(e.Versions))
	for i, v := range e.Versions {
		v.QuestionIDs = slices.Clone(v.QuestionIDs)
		out.Versions[i] = v
	}
	return out
}

type learnerExamKey struct {
	learnerID uint
	examID    uint
}

// AttemptHistoryTracker хранит, какие пулы ученик уже получал по экзамену.
// Записи, простаивающие дольше inactivity, считаются отсутствующими.
type AttemptHistoryTracker struct {
	maxAttempts int
	inactivity  time.Duration
	clock       Clock

	mu      sync.Mutex
	entries map[learnerExamKey]*AttemptHistoryEntry
}

func NewAttemptHistoryTracker(maxAttempts int, inactivity time.Duration, clock Clock) *AttemptHistoryTracker {
	return &AttemptHistoryTracker{
		maxAttempts: maxAttempts,
		inactivity:  inactivity,
		clock:       clock,
		entries:     make(map[learnerExamKey]*AttemptHistoryEntry),
	}
}

// liveLocked возвращает запись или nil; устаревшая запись удаляется
func (t *AttemptHistoryTracker) liveLocked(key learnerExamKey, now time.Time) *AttemptHistoryEntry {
	e, ok := t.entries[key]
	if !ok {
		return nil
	}
	if now.Sub(e.LastAttemptAt) > t.inactivity {
		delete(t.entries, key)
		return nil
	}
	return e
}

// AttemptNumber возвращает номер следующей попытки (1, если истории нет)
func (t *AttemptHistoryTracker) AttemptNumber(learnerID, examID uint) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.liveLocked(learnerExamKey{learnerID, examID}, t.clock.Now())
	if e == nil {
		return 1
	}
	return e.AttemptCount + 1
}

// ExcludedPools возвращает наборы вопросов попыток с номером меньше beforeAttempt,
// не больше maxAttempts последних, от старых к новым
func (t *AttemptHistoryTracker) ExcludedPools(learnerID, examID uint, beforeAttempt int) [][]uint {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.liveLocked(learnerExamKey{learnerID, examID}, t.clock.Now())
	if e == nil {
		return nil
	}

	var pools [][]uint
	for _, v := range e.Versions {
		if v.AttemptNumber < beforeAttempt {
			pools = append(pools, slices.Clone(v.QuestionIDs))
		}
	}
	if len(pools) > t.maxAttempts {
		pools = pools[len(pools)-t.maxAttempts:]
	}
	return pools
}

// RecordAttempt фиксирует выдачу пула на попытке attempt.
// Счётчик попыток только растёт; повторное обращение к уже выданной попытке лишь обновляет время.
func (t *AttemptHistoryTracker) RecordAttempt(learnerID, examID uint, attempt int, versionID string, ids []uint) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	key := learnerExamKey{learnerID, examID}
	e := t.liveLocked(key, now)
	if e == nil {
		e = &AttemptHistoryEntry{LearnerID: learnerID, ExamID: examID}
		t.entries[key] = e
	}

	e.AttemptCount = max(e.AttemptCount, attempt)
	e.LastAttemptAt = now

	if slices.ContainsFunc(e.Versions, func(v PoolVersion) bool { return v.AttemptNumber == attempt }) {
		return
	}
	e.Versions = append(e.Versions, PoolVersion{
		VersionID:     versionID,
		AttemptNumber: attempt,
		QuestionIDs:   slices.Clone(ids),
		IssuedAt:      now,
	})
	slices.SortStableFunc(e.Versions, func(x, y PoolVersion) int {
		return cmp.Compare(x.AttemptNumber, y.AttemptNumber)
	})
	if len(e.Versions) > t.maxAttempts {
		e.Versions = slices.Clone(e.Versions[len(e.Versions)-t.maxAttempts:])
	}
}

// Get возвращает копию записи для просмотра
func (t *AttemptHistoryTracker) Get(learnerID, examID uint) (AttemptHistoryEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.liveLocked(learnerExamKey{learnerID, examID}, t.clock.Now())
	if e == nil {
		return AttemptHistoryEntry{}, false
	}
	return e.clone(), true
}

// Sweep удаляет записи, простаивающие дольше порога
func (t *AttemptHistoryTracker) Sweep(now time.Time) int {
	t.mu.Lock()
	keys := make([]learnerExamKey, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	t.mu.Unlock()

	removed := 0
	for _, k := range keys {
		t.mu.Lock()
		if e, ok := t.entries[k]; ok && now.Sub(e.LastAttemptAt) > t.inactivity {
			delete(t.entries, k)
			removed++
		}
		t.mu.Unlock()
	}
	return removed
}

func (t *AttemptHistoryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *AttemptHistoryTracker) Clear() {
	t.mu.Lock()
	t.entries = make(map[learnerExamKey]*AttemptHistoryEntry)
	t.mu.Unlock()
}
