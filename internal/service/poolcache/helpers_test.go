package poolcache

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeClock - управляемые часы для проверки TTL
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// bankSource отдаёт первые Quantity вопросов банка и считает обращения
type bankSource struct {
	bank  []uint
	delay time.Duration
	calls atomic.Int32
}

func newBankSource(n int) *bankSource {
	return &bankSource{bank: questionBank(n)}
}

func (s *bankSource) FetchCandidates(ctx context.Context, req CandidateRequest) ([]uint, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	n := min(req.Quantity, len(s.bank))
	return slices.Clone(s.bank[:n]), nil
}

// MockCandidateSource - мок источника кандидатов
type MockCandidateSource struct {
	mock.Mock
}

func (m *MockCandidateSource) FetchCandidates(ctx context.Context, req CandidateRequest) ([]uint, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uint), args.Error(1)
}

// MockPurchaseLedger - мок журнала покупок
type MockPurchaseLedger struct {
	mock.Mock
}

func (m *MockPurchaseLedger) GetPurchasedQuestions(ctx context.Context, learnerID, examID uint) ([]uint, error) {
	args := m.Called(ctx, learnerID, examID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uint), args.Error(1)
}

func questionBank(n int) []uint {
	ids := make([]uint, n)
	for i := range ids {
		ids[i] = uint(i + 1)
	}
	return ids
}

func mustCriteria(t *testing.T, quantity int, opts ...CriteriaOption) PoolSelectionCriteria {
	t.Helper()
	c, err := NewPoolSelectionCriteria([]string{"history"}, "medium", nil, quantity, opts...)
	require.NoError(t, err)
	return c
}

func newTestEngine(t *testing.T, cfg *Config, source CandidateSource, clock Clock, ledger PurchaseLedger) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, &Dependencies{
		Candidates: source,
		Ledger:     ledger,
		Clock:      clock,
	})
	require.NoError(t, err)
	return e
}

func intersection(a, b []uint) int {
	n := 0
	for _, id := range a {
		if slices.Contains(b, id) {
			n++
		}
	}
	return n
}
