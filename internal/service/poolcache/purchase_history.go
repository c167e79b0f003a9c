package poolcache

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// PurchaseHistoryEntry - история покупок ученика по предмету
type PurchaseHistoryEntry struct {
	LearnerID      uint      `json:"learner_id"`
	SubjectID      uint      `json:"subject_id"`
	PurchaseCount  int       `json:"purchase_count"`
	ExamIDs        []uint    `json:"exam_ids"`
	LastPurchaseAt time.Time `json:"last_purchase_at"`

	// pools - выданные наборы по номеру покупки
	pools map[int][]uint
}

func (e *PurchaseHistoryEntry) clone() PurchaseHistoryEntry {
	out := *e
	out.ExamIDs = slices.Clone(e.ExamIDs)
	out.pools = nil
	return out
}

type learnerSubjectKey struct {
	learnerID uint
	subjectID uint
}

type examRecord struct {
	subjectID uint
	ids       []uint
}

// PurchaseHistoryTracker считает покупки ученика по предмету и помнит выданные наборы.
// По нему определяется, положен ли покупке общий пул или уникальный.
type PurchaseHistoryTracker struct {
	inactivity time.Duration
	clock      Clock

	mu      sync.Mutex
	entries map[learnerSubjectKey]*PurchaseHistoryEntry
	exams   map[learnerExamKey]examRecord
}

func NewPurchaseHistoryTracker(inactivity time.Duration, clock Clock) *PurchaseHistoryTracker {
	return &PurchaseHistoryTracker{
		inactivity: inactivity,
		clock:      clock,
		entries:    make(map[learnerSubjectKey]*PurchaseHistoryEntry),
		exams:      make(map[learnerExamKey]examRecord),
	}
}

func (t *PurchaseHistoryTracker) liveLocked(key learnerSubjectKey, now time.Time) *PurchaseHistoryEntry {
	e, ok := t.entries[key]
	if !ok {
		return nil
	}
	if now.Sub(e.LastPurchaseAt) > t.inactivity {
		t.dropLocked(key)
		return nil
	}
	return e
}

func (t *PurchaseHistoryTracker) ensureLocked(key learnerSubjectKey, now time.Time) *PurchaseHistoryEntry {
	if e := t.liveLocked(key, now); e != nil {
		return e
	}
	e := &PurchaseHistoryEntry{
		LearnerID:      key.learnerID,
		SubjectID:      key.subjectID,
		LastPurchaseAt: now,
		pools:          make(map[int][]uint),
	}
	t.entries[key] = e
	return e
}

// dropLocked удаляет запись вместе с привязанными к ней экзаменами
func (t *PurchaseHistoryTracker) dropLocked(key learnerSubjectKey) {
	e, ok := t.entries[key]
	if !ok {
		return
	}
	for _, examID := range e.ExamIDs {
		delete(t.exams, learnerExamKey{key.learnerID, examID})
	}
	delete(t.entries, key)
}

// BeginPurchase атомарно увеличивает счётчик покупок и возвращает номер новой покупки (1 - первая)
func (t *PurchaseHistoryTracker) BeginPurchase(learnerID, subjectID uint) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	e := t.ensureLocked(learnerSubjectKey{learnerID, subjectID}, now)
	e.PurchaseCount++
	e.LastPurchaseAt = now
	return e.PurchaseCount
}

// CompletePurchase запоминает набор, выданный на покупке seq
func (t *PurchaseHistoryTracker) CompletePurchase(learnerID, subjectID uint, seq int, ids []uint) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	e := t.ensureLocked(learnerSubjectKey{learnerID, subjectID}, now)
	e.PurchaseCount = max(e.PurchaseCount, seq)
	e.pools[seq] = slices.Clone(ids)
	e.LastPurchaseAt = now
}

// CancelPurchase откатывает счётчик, если сборка для seq не удалась и новых покупок после неё не было
func (t *PurchaseHistoryTracker) CancelPurchase(learnerID, subjectID uint, seq int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := learnerSubjectKey{learnerID, subjectID}
	e := t.liveLocked(key, t.clock.Now())
	if e == nil || e.PurchaseCount != seq {
		return
	}
	if _, issued := e.pools[seq]; issued {
		return
	}
	e.PurchaseCount--
	if e.PurchaseCount == 0 && len(e.ExamIDs) == 0 {
		t.dropLocked(key)
	}
}

// RevokePurchase отменяет уже выданную покупку seq (например, её не удалось записать в журнал).
// Набор покупки забывается; счётчик откатывается, только если seq - последняя покупка.
func (t *PurchaseHistoryTracker) RevokePurchase(learnerID, subjectID uint, seq int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := learnerSubjectKey{learnerID, subjectID}
	e := t.liveLocked(key, t.clock.Now())
	if e == nil || seq < 1 || seq > e.PurchaseCount {
		return false
	}
	delete(e.pools, seq)
	if e.PurchaseCount == seq {
		e.PurchaseCount--
	}
	if e.PurchaseCount == 0 && len(e.ExamIDs) == 0 {
		t.dropLocked(key)
	}
	return true
}

// IssuedPools возвращает выданные наборы от старых покупок к новым
func (t *PurchaseHistoryTracker) IssuedPools(learnerID, subjectID uint) [][]uint {
	return t.IssuedPoolsExcept(learnerID, subjectID, 0)
}

// IssuedPoolsExcept - то же, что IssuedPools, без набора покупки seq
func (t *PurchaseHistoryTracker) IssuedPoolsExcept(learnerID, subjectID uint, seq int) [][]uint {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.liveLocked(learnerSubjectKey{learnerID, subjectID}, t.clock.Now())
	if e == nil {
		return nil
	}
	seqs := slices.Sorted(maps.Keys(e.pools))
	pools := make([][]uint, 0, len(seqs))
	for _, n := range seqs {
		if n == seq {
			continue
		}
		pools = append(pools, slices.Clone(e.pools[n]))
	}
	return pools
}

// RecordExam запоминает исходный набор вопросов купленного экзамена (основа для повторов).
// Если счётчик покупок меньше числа различных экзаменов (восстановление из журнала),
// он подтягивается, а набор регистрируется как выданный пул.
func (t *PurchaseHistoryTracker) RecordExam(learnerID, examID, subjectID uint, ids []uint) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	e := t.ensureLocked(learnerSubjectKey{learnerID, subjectID}, now)
	if !slices.Contains(e.ExamIDs, examID) {
		e.ExamIDs = append(e.ExamIDs, examID)
	}
	if e.PurchaseCount < len(e.ExamIDs) {
		e.PurchaseCount = len(e.ExamIDs)
		if _, ok := e.pools[e.PurchaseCount]; !ok {
			e.pools[e.PurchaseCount] = slices.Clone(ids)
		}
	}
	e.LastPurchaseAt = now
	t.exams[learnerExamKey{learnerID, examID}] = examRecord{subjectID: subjectID, ids: slices.Clone(ids)}
}

// ExamQuestions возвращает исходный набор купленного экзамена
func (t *PurchaseHistoryTracker) ExamQuestions(learnerID, examID uint) ([]uint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.exams[learnerExamKey{learnerID, examID}]
	if !ok {
		return nil, false
	}
	if t.liveLocked(learnerSubjectKey{learnerID, rec.subjectID}, t.clock.Now()) == nil {
		return nil, false
	}
	return slices.Clone(rec.ids), true
}

// Stats возвращает копию записи по предмету
func (t *PurchaseHistoryTracker) Stats(learnerID, subjectID uint) (PurchaseHistoryEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.liveLocked(learnerSubjectKey{learnerID, subjectID}, t.clock.Now())
	if e == nil {
		return PurchaseHistoryEntry{}, false
	}
	return e.clone(), true
}

// Sweep удаляет записи, простаивающие дольше порога; блокировка на каждое удаление
func (t *PurchaseHistoryTracker) Sweep(now time.Time) int {
	t.mu.Lock()
	keys := slices.Collect(maps.Keys(t.entries))
	t.mu.Unlock()

	removed := 0
	for _, k := range keys {
		t.mu.Lock()
		if e, ok := t.entries[k]; ok && now.Sub(e.LastPurchaseAt) > t.inactivity {
			t.dropLocked(k)
			removed++
		}
		t.mu.Unlock()
	}
	return removed
}

func (t *PurchaseHistoryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *PurchaseHistoryTracker) Clear() {
	t.mu.Lock()
	t.entries = make(map[learnerSubjectKey]*PurchaseHistoryEntry)
	t.exams = make(map[learnerExamKey]examRecord)
	t.mu.Unlock()
}

// RepetitionHistoryEntry - история повторов купленного экзамена
type RepetitionHistoryEntry struct {
	LearnerID         uint      `json:"learner_id"`
	ExamID            uint      `json:"exam_id"`
	RepetitionCount   int       `json:"repetition_count"`
	LastRepetitionAt  time.Time `json:"last_repetition_at"`
	OriginalQuestions []uint    `json:"original_questions"`
}

// RepetitionTracker ограничивает число повторов экзамена
type RepetitionTracker struct {
	maxRepetitions int
	inactivity     time.Duration
	clock          Clock

	mu      sync.Mutex
	entries map[learnerExamKey]*RepetitionHistoryEntry
	denied  int64
}

func NewRepetitionTracker(maxRepetitions int, inactivity time.Duration, clock Clock) *RepetitionTracker {
	return &RepetitionTracker{
		maxRepetitions: maxRepetitions,
		inactivity:     inactivity,
		clock:          clock,
		entries:        make(map[learnerExamKey]*RepetitionHistoryEntry),
	}
}

func (t *RepetitionTracker) liveLocked(key learnerExamKey, now time.Time) *RepetitionHistoryEntry {
	e, ok := t.entries[key]
	if !ok {
		return nil
	}
	if now.Sub(e.LastRepetitionAt) > t.inactivity {
		delete(t.entries, key)
		return nil
	}
	return e
}

// Next выдаёт исходный набор для очередного повтора.
// При первом обращении набор берётся из seed. При исчерпании лимита возвращается
// *RepetitionLimitError, счётчик при этом не меняется.
func (t *RepetitionTracker) Next(learnerID, examID uint, seed func() ([]uint, error)) ([]uint, int, error) {
	key := learnerExamKey{learnerID, examID}

	t.mu.Lock()
	e := t.liveLocked(key, t.clock.Now())
	t.mu.Unlock()

	var seeded []uint
	if e == nil {
		// seed может ходить в БД, поэтому вызывается без блокировки
		ids, err := seed()
		if err != nil {
			return nil, 0, err
		}
		seeded = ids
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	e = t.liveLocked(key, now)
	if e == nil {
		e = &RepetitionHistoryEntry{
			LearnerID:         learnerID,
			ExamID:            examID,
			LastRepetitionAt:  now,
			OriginalQuestions: slices.Clone(seeded),
		}
		t.entries[key] = e
	}

	if e.RepetitionCount+1 > t.maxRepetitions {
		t.denied++
		return nil, e.RepetitionCount, &RepetitionLimitError{
			LearnerID:      learnerID,
			ExamID:         examID,
			MaxRepetitions: t.maxRepetitions,
		}
	}
	e.RepetitionCount++
	e.LastRepetitionAt = now
	return slices.Clone(e.OriginalQuestions), e.RepetitionCount, nil
}

// Get возвращает копию записи повторов
func (t *RepetitionTracker) Get(learnerID, examID uint) (RepetitionHistoryEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.liveLocked(learnerExamKey{learnerID, examID}, t.clock.Now())
	if e == nil {
		return RepetitionHistoryEntry{}, false
	}
	out := *e
	out.OriginalQuestions = slices.Clone(e.OriginalQuestions)
	return out, true
}

func (t *RepetitionTracker) Sweep(now time.Time) int {
	t.mu.Lock()
	keys := slices.Collect(maps.Keys(t.entries))
	t.mu.Unlock()

	removed := 0
	for _, k := range keys {
		t.mu.Lock()
		if e, ok := t.entries[k]; ok && now.Sub(e.LastRepetitionAt) > t.inactivity {
			delete(t.entries, k)
			removed++
		}
		t.mu.Unlock()
	}
	return removed
}

func (t *RepetitionTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Denied - сколько повторов было отклонено из-за лимита
func (t *RepetitionTracker) Denied() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.denied
}

func (t *RepetitionTracker) Clear() {
	t.mu.Lock()
	t.entries = make(map[learnerExamKey]*RepetitionHistoryEntry)
	t.denied = 0
	t.mu.Unlock()
}
