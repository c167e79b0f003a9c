package poolcache

import (
	"fmt"
	"time"
)

// Пороги рекомендаций
const (
	adviceLowSharedHitRate  = 0.5
	adviceCapacityPressure  = 0.9
	adviceEvictionRatio     = 0.2
	adviceDegradedRatio     = 0.1
	adviceRepetitionDenials = 10
	recommendationInfo      = "info"
	recommendationWarning   = "warning"
)

// TierStats - статистика одного уровня кеша
type TierStats struct {
	Tier           string       `json:"tier"`
	Entries        int          `json:"entries"`
	Capacity       int          `json:"capacity"`
	Hits           int64        `json:"hits"`
	Misses         int64        `json:"misses"`
	Requests       int64        `json:"requests"`
	HitRate        float64      `json:"hit_rate"`
	Inserts        int64        `json:"inserts"`
	Evictions      int64        `json:"evictions"`
	Expirations    int64        `json:"expirations"`
	Collisions     int64        `json:"collisions"`
	DegradedBuilds int64        `json:"degraded_builds"`
	EstimatedBytes int64        `json:"estimated_bytes"`
	TopEntries     []EntryUsage `json:"top_entries"`
}

// HistoryStats - размеры историй
type HistoryStats struct {
	AttemptEntries    int   `json:"attempt_entries"`
	PurchaseEntries   int   `json:"purchase_entries"`
	RepetitionEntries int   `json:"repetition_entries"`
	RepetitionsDenied int64 `json:"repetitions_denied"`
}

// CacheStats - снимок состояния движка
type CacheStats struct {
	QuestionPools  TierStats    `json:"question_pools"`
	Shared         TierStats    `json:"shared"`
	Unique         TierStats    `json:"unique"`
	History        HistoryStats `json:"history"`
	EstimatedBytes int64        `json:"estimated_bytes"`
	GeneratedAt    time.Time    `json:"generated_at"`
}

// Tiers возвращает уровни в фиксированном порядке
func (s CacheStats) Tiers() []TierStats {
	return []TierStats{s.QuestionPools, s.Shared, s.Unique}
}

// Recommendation - совет по настройке; движок сам ничего не меняет
type Recommendation struct {
	Code     string `json:"code"`
	Tier     string `json:"tier,omitempty"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// GetCacheStats собирает статистику без изменения состояния
func (e *Engine) GetCacheStats() CacheStats {
	stats := CacheStats{
		QuestionPools: e.tierStats(e.questionPools),
		Shared:        e.tierStats(e.shared),
		Unique:        e.tierStats(e.unique),
		History: HistoryStats{
			AttemptEntries:    e.attempts.Len(),
			PurchaseEntries:   e.purchases.Len(),
			RepetitionEntries: e.repetitions.Len(),
			RepetitionsDenied: e.repetitions.Denied(),
		},
		GeneratedAt: e.clock.Now(),
	}
	for _, t := range stats.Tiers() {
		stats.EstimatedBytes += t.EstimatedBytes
	}
	return stats
}

func (e *Engine) tierStats(a *arena) TierStats {
	s := a.snapshot(e.cfg.TopEntries)
	requests := s.counters.hits + s.counters.misses

	var hitRate float64
	if requests > 0 {
		hitRate = float64(s.totalUsage) / float64(requests)
	}
	return TierStats{
		Tier:           s.tier,
		Entries:        s.entries,
		Capacity:       s.capacity,
		Hits:           s.counters.hits,
		Misses:         s.counters.misses,
		Requests:       requests,
		HitRate:        hitRate,
		Inserts:        s.counters.inserts,
		Evictions:      s.counters.evictions,
		Expirations:    s.counters.expirations,
		Collisions:     s.counters.collisions,
		DegradedBuilds: s.counters.degraded,
		EstimatedBytes: int64(s.entries) * e.cfg.EstimatedEntryBytes,
		TopEntries:     s.top,
	}
}

// GenerateRecommendations анализирует статистику и предлагает изменения настроек
func (e *Engine) GenerateRecommendations() []Recommendation {
	stats := e.GetCacheStats()
	var recs []Recommendation

	shared := stats.Shared
	if shared.Requests >= e.cfg.AdviceMinRequests && shared.HitRate < adviceLowSharedHitRate {
		recs = append(recs, Recommendation{
			Code:     "raise_shared_ttl",
			Tier:     TierShared,
			Severity: recommendationInfo,
			Message: fmt.Sprintf("shared pool hit rate is %.2f over %d requests; consider raising shared pool TTL (now %s)",
				shared.HitRate, shared.Requests, e.cfg.SharedPoolTTL),
		})
	}
	if float64(shared.Entries) >= adviceCapacityPressure*float64(shared.Capacity) {
		recs = append(recs, Recommendation{
			Code:     "raise_shared_capacity",
			Tier:     TierShared,
			Severity: recommendationWarning,
			Message:  fmt.Sprintf("shared tier holds %d of %d entries; consider raising max shared caches", shared.Entries, shared.Capacity),
		})
	}

	for _, t := range stats.Tiers() {
		if t.Inserts >= e.cfg.AdviceMinRequests && float64(t.Evictions) > adviceEvictionRatio*float64(t.Inserts) {
			recs = append(recs, Recommendation{
				Code:     "raise_capacity",
				Tier:     t.Tier,
				Severity: recommendationWarning,
				Message:  fmt.Sprintf("%d of %d inserts in %s tier caused evictions; consider raising its capacity", t.Evictions, t.Inserts, t.Tier),
			})
		}
	}

	for _, t := range []TierStats{stats.QuestionPools, stats.Unique} {
		if t.Misses > 0 && float64(t.DegradedBuilds) > adviceDegradedRatio*float64(t.Misses) {
			recs = append(recs, Recommendation{
				Code:     "extend_candidates",
				Tier:     t.Tier,
				Severity: recommendationWarning,
				Message: fmt.Sprintf("%d of %d builds in %s tier exceeded the overlap limit; raise pool size multiplier (now %d) or extend the question bank",
					t.DegradedBuilds, t.Misses, t.Tier, e.cfg.PoolSizeMultiplier),
			})
		}
	}

	if e.cfg.MemoryBudgetBytes > 0 && stats.EstimatedBytes > e.cfg.MemoryBudgetBytes {
		recs = append(recs, Recommendation{
			Code:     "lower_ttl",
			Severity: recommendationWarning,
			Message:  fmt.Sprintf("estimated cache memory %d bytes exceeds budget %d; consider lowering pool TTLs", stats.EstimatedBytes, e.cfg.MemoryBudgetBytes),
		})
	}

	if stats.History.RepetitionsDenied >= adviceRepetitionDenials {
		recs = append(recs, Recommendation{
			Code:     "review_max_repetitions",
			Severity: recommendationInfo,
			Message:  fmt.Sprintf("%d repetitions were denied; review max repetitions (now %d)", stats.History.RepetitionsDenied, e.cfg.MaxRepetitions),
		})
	}

	return recs
}
