package service

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/yourusername/exam-pool/internal/service/poolcache"
)

func reportFixture() (poolcache.CacheStats, []poolcache.Recommendation) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stats := poolcache.CacheStats{
		QuestionPools: poolcache.TierStats{Tier: poolcache.TierQuestionPool, Entries: 3, Capacity: 1000},
		Shared: poolcache.TierStats{
			Tier: poolcache.TierShared, Entries: 2, Capacity: 100, Hits: 8, Misses: 2, Requests: 10, HitRate: 0.8,
			TopEntries: []poolcache.EntryUsage{
				{Key: "=shared:subject:1", UsageCount: 8, Questions: 20, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
			},
		},
		Unique:      poolcache.TierStats{Tier: poolcache.TierUnique, Capacity: 1000},
		History:     poolcache.HistoryStats{AttemptEntries: 4, RepetitionsDenied: 1},
		GeneratedAt: now,
	}
	recs := []poolcache.Recommendation{
		{Code: "raise_capacity", Tier: poolcache.TierUnique, Severity: "warning", Message: "-evictions are high"},
	}
	return stats, recs
}

func TestStatsReportService_Write(t *testing.T) {
	// Arrange
	svc := NewStatsReportService(nil)
	stats, recs := reportFixture()
	var buf bytes.Buffer

	// Act
	require.NoError(t, svc.Write(&buf, stats, recs))

	// Assert
	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheetTiers, sheetTopEntries, sheetRecommendations}, f.GetSheetList())

	tiers, err := f.GetRows(sheetTiers)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(tiers), 4)
	assert.Equal(t, "Уровень", tiers[0][0])
	assert.Equal(t, poolcache.TierQuestionPool, tiers[1][0])
	assert.Equal(t, poolcache.TierShared, tiers[2][0])
	assert.Equal(t, "0.8", tiers[2][6])

	top, err := f.GetRows(sheetTopEntries)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "'=shared:subject:1", top[1][1], "формулы экранируются")

	advice, err := f.GetRows(sheetRecommendations)
	require.NoError(t, err)
	require.Len(t, advice, 2)
	assert.Equal(t, "raise_capacity", advice[1][0])
	assert.Equal(t, "'-evictions are high", advice[1][3])
}

func TestStatsReportService_WriteFile(t *testing.T) {
	svc := NewStatsReportService(nil)
	stats, recs := reportFixture()
	path := filepath.Join(t.TempDir(), "reports", "pool.xlsx")

	require.NoError(t, svc.WriteFile(path, stats, recs))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "временный файл не остаётся")
}

func TestSanitizeForExcel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"plain", "plain"},
		{"=SUM(A1)", "'=SUM(A1)"},
		{"+1", "'+1"},
		{"-1", "'-1"},
		{"@cmd", "'@cmd"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeForExcel(tt.in))
	}
}
