package service

import (
	"context"
	"time"

	"github.com/yourusername/exam-pool/internal/pkg/logger"
	"github.com/yourusername/exam-pool/internal/service/poolcache"
)

// statsSource - часть движка, нужная фоновым задачам
type statsSource interface {
	Sweep() poolcache.SweepResult
	GetCacheStats() poolcache.CacheStats
	GenerateRecommendations() []poolcache.Recommendation
}

// MaintenanceWorker периодически чистит движок и выгружает отчёт с рекомендациями
type MaintenanceWorker struct {
	engine     statsSource
	report     *StatsReportService
	notifier   RecommendationNotifier
	reportPath string
	log        *logger.Logger
}

// NewMaintenanceWorker создает воркер; пустой reportPath отключает xlsx-отчёт,
// nil notifier - рассылку
func NewMaintenanceWorker(engine statsSource, report *StatsReportService, notifier RecommendationNotifier, reportPath string, log *logger.Logger) *MaintenanceWorker {
	if log == nil {
		log = logger.Nop()
	}
	if notifier == nil {
		notifier = &NoopNotifier{Log: log}
	}
	return &MaintenanceWorker{
		engine:     engine,
		report:     report,
		notifier:   notifier,
		reportPath: reportPath,
		log:        log.With("component", "maintenance"),
	}
}

// SweepOnce удаляет просроченные пулы и неактивные истории
func (w *MaintenanceWorker) SweepOnce() poolcache.SweepResult {
	res := w.engine.Sweep()
	if res.Total() > 0 {
		w.log.Info("[Maintenance] Очистка кешей", "removed", res.Total(),
			"shared", res.SharedPools, "unique", res.UniquePools, "question_pools", res.QuestionPools)
	}
	return res
}

// ReportOnce снимает статистику, пишет отчёт и рассылает рекомендации.
// Ошибки логируются; возвращается число рекомендаций.
func (w *MaintenanceWorker) ReportOnce(ctx context.Context) int {
	stats := w.engine.GetCacheStats()
	recs := w.engine.GenerateRecommendations()

	if w.report != nil && w.reportPath != "" {
		if err := w.report.WriteFile(w.reportPath, stats, recs); err != nil {
			w.log.Error("[Maintenance] Не удалось записать отчёт", "path", w.reportPath, "error", err)
		}
	}
	if err := w.notifier.SendDigest(ctx, stats, recs); err != nil {
		w.log.Error("[Maintenance] Не удалось отправить сводку", "error", err)
	}
	for _, r := range recs {
		w.log.Info("[Maintenance] Рекомендация", "code", r.Code, "tier", r.Tier, "severity", r.Severity, "message", r.Message)
	}
	return len(recs)
}

// Run крутит задачи до отмены ctx. Нулевой интервал отключает задачу.
func (w *MaintenanceWorker) Run(ctx context.Context, sweepEvery, reportEvery time.Duration) {
	sweepC := tickerChan(sweepEvery)
	reportC := tickerChan(reportEvery)

	w.log.Info("[Maintenance] Запуск фоновых задач", "sweep_every", sweepEvery.String(), "report_every", reportEvery.String())
	for {
		select {
		case <-sweepC.C:
			w.SweepOnce()
		case <-reportC.C:
			w.ReportOnce(ctx)
		case <-ctx.Done():
			sweepC.stop()
			reportC.stop()
			w.log.Info("[Maintenance] Завершение фоновых задач")
			return
		}
	}
}

type optionalTicker struct {
	C      <-chan time.Time
	ticker *time.Ticker
}

func (t optionalTicker) stop() {
	if t.ticker != nil {
		t.ticker.Stop()
	}
}

// tickerChan для d <= 0 возвращает канал, который никогда не срабатывает
func tickerChan(d time.Duration) optionalTicker {
	if d <= 0 {
		return optionalTicker{C: make(chan time.Time)}
	}
	t := time.NewTicker(d)
	return optionalTicker{C: t.C, ticker: t}
}
