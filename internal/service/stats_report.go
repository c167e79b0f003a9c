package service

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/yourusername/exam-pool/internal/pkg/logger"
	"github.com/yourusername/exam-pool/internal/service/poolcache"
)

const (
	sheetTiers           = "Уровни"
	sheetTopEntries      = "Популярные пулы"
	sheetRecommendations = "Рекомендации"
)

// StatsReportService выгружает статистику кешей и рекомендации в Excel
type StatsReportService struct {
	log *logger.Logger
}

func NewStatsReportService(log *logger.Logger) *StatsReportService {
	if log == nil {
		log = logger.Nop()
	}
	return &StatsReportService{log: log.With("component", "report")}
}

// WriteFile пишет отчёт во временный файл и атомарно переименовывает его в path
func (s *StatsReportService) WriteFile(path string, stats poolcache.CacheStats, recs []poolcache.Recommendation) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pool-report-*.xlsx")
	if err != nil {
		return fmt.Errorf("failed to create temp report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := s.Write(tmp, stats, recs); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move report into place: %w", err)
	}
	s.log.Info("[StatsReport] Отчёт записан", "path", path, "recommendations", len(recs))
	return nil
}

// Write формирует xlsx с тремя листами: уровни, популярные пулы, рекомендации.
// Используем StreamWriter: топ пулов может быть большим.
func (s *StatsReportService) Write(w io.Writer, stats poolcache.CacheStats, recs []poolcache.Recommendation) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetTiers); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{sheetTopEntries, sheetRecommendations} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %q: %w", name, err)
		}
	}

	if err := writeTierSheet(f, stats); err != nil {
		return err
	}
	if err := writeTopEntriesSheet(f, stats); err != nil {
		return err
	}
	if err := writeRecommendationsSheet(f, recs); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}

func writeTierSheet(f *excelize.File, stats poolcache.CacheStats) error {
	sw, err := f.NewStreamWriter(sheetTiers)
	if err != nil {
		return fmt.Errorf("failed to create stream writer: %w", err)
	}

	headers := []interface{}{"Уровень", "Записей", "Ёмкость", "Попадания", "Промахи", "Запросы", "Hit rate",
		"Вставки", "Вытеснения", "Истечения", "Коллизии", "Деградации", "Память (байт)"}
	if err := sw.SetRow("A1", headers); err != nil {
		return err
	}

	row := 2
	for _, t := range stats.Tiers() {
		values := []interface{}{t.Tier, t.Entries, t.Capacity, t.Hits, t.Misses, t.Requests, t.HitRate,
			t.Inserts, t.Evictions, t.Expirations, t.Collisions, t.DegradedBuilds, t.EstimatedBytes}
		if err := sw.SetRow(fmt.Sprintf("A%d", row), values); err != nil {
			return err
		}
		row++
	}

	// Истории - отдельным блоком под уровнями
	row++
	h := stats.History
	historyRows := [][]interface{}{
		{"История попыток", h.AttemptEntries},
		{"История покупок", h.PurchaseEntries},
		{"История повторов", h.RepetitionEntries},
		{"Отказов в повторе", h.RepetitionsDenied},
		{"Всего памяти (байт)", stats.EstimatedBytes},
		{"Снимок на", stats.GeneratedAt.UTC().Format("2006-01-02 15:04:05")},
	}
	for _, values := range historyRows {
		if err := sw.SetRow(fmt.Sprintf("A%d", row), values); err != nil {
			return err
		}
		row++
	}
	return sw.Flush()
}

func writeTopEntriesSheet(f *excelize.File, stats poolcache.CacheStats) error {
	sw, err := f.NewStreamWriter(sheetTopEntries)
	if err != nil {
		return fmt.Errorf("failed to create stream writer: %w", err)
	}
	if err := sw.SetRow("A1", []interface{}{"Уровень", "Ключ", "Использований", "Вопросов", "Создан", "Истекает"}); err != nil {
		return err
	}

	row := 2
	for _, t := range stats.Tiers() {
		for _, e := range t.TopEntries {
			values := []interface{}{t.Tier, sanitizeForExcel(e.Key), e.UsageCount, e.Questions,
				e.CreatedAt.UTC().Format("2006-01-02 15:04:05"), e.ExpiresAt.UTC().Format("2006-01-02 15:04:05")}
			if err := sw.SetRow(fmt.Sprintf("A%d", row), values); err != nil {
				return err
			}
			row++
		}
	}
	return sw.Flush()
}

func writeRecommendationsSheet(f *excelize.File, recs []poolcache.Recommendation) error {
	sw, err := f.NewStreamWriter(sheetRecommendations)
	if err != nil {
		return fmt.Errorf("failed to create stream writer: %w", err)
	}
	if err := sw.SetRow("A1", []interface{}{"Код", "Уровень", "Важность", "Описание"}); err != nil {
		return err
	}
	for i, r := range recs {
		values := []interface{}{r.Code, r.Tier, r.Severity, sanitizeForExcel(r.Message)}
		if err := sw.SetRow(fmt.Sprintf("A%d", i+2), values); err != nil {
			return err
		}
	}
	return sw.Flush()
}

// sanitizeForExcel экранирует данные для защиты от formula injection в Excel/CSV
func sanitizeForExcel(s string) string {
	if len(s) == 0 {
		return s
	}
	// Символы, начинающие формулу в Excel/LibreOffice: = + - @ \t \r
	if s[0] == '=' || s[0] == '+' || s[0] == '-' || s[0] == '@' || s[0] == '\t' || s[0] == '\r' {
		return "'" + s
	}
	return s
}
