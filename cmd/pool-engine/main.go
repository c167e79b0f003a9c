package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/yourusername/exam-pool/internal/config"
	"github.com/yourusername/exam-pool/internal/domain/repository"
	"github.com/yourusername/exam-pool/internal/pkg/logger"
	memoryRepo "github.com/yourusername/exam-pool/internal/repository/memory"
	pgRepo "github.com/yourusername/exam-pool/internal/repository/postgres"
	redisRepo "github.com/yourusername/exam-pool/internal/repository/redis"
	"github.com/yourusername/exam-pool/internal/service"
	"github.com/yourusername/exam-pool/internal/service/poolcache"
	"github.com/yourusername/exam-pool/pkg/database"
	"github.com/yourusername/exam-pool/pkg/metrics"
)

const version = "0.1.0"

func main() {
	// Загружаем конфигурацию
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		// Логгер ещё не настроен: режим берётся из конфигурации
		boot := logger.Nop()
		if l, lerr := logger.New(os.Getenv("LOG_MODE")); lerr == nil {
			boot = l
		}
		boot.Fatal("[Main] Не удалось загрузить конфигурацию", "path", configPath, "error", err)
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("[Main] Конфигурация загружена", "path", configPath)

	// Контекст живёт до SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL и миграции
	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString(), cfg.Log.Mode != "production")
	if err != nil {
		log.Fatal("[Main] Не удалось подключиться к БД", "error", err)
	}
	if err := database.MigrateDB(db, cfg.Database.MigrationsPath, log); err != nil {
		log.Fatal("[Main] Не удалось применить миграции", "error", err)
	}

	questionRepo := pgRepo.NewQuestionRepo(db)
	purchaseRepo := pgRepo.NewPurchaseRepo(db)

	// Кеш кандидатов: Redis или память процесса
	cacheRepo, redisClient := newCandidateCache(ctx, cfg, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Метрики
	meterProvider, err := metrics.NewProvider(ctx, metrics.Options{
		Exporter:    cfg.Telemetry.MetricsExporter,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: "exam-pool",
		Version:     version,
	})
	if err != nil {
		log.Fatal("[Main] Не удалось настроить метрики", "error", err)
	}

	// Движок пулов
	candidates := service.NewCandidateService(questionRepo, cacheRepo, cfg.Candidates.CacheTTL, log)
	engine, err := poolcache.NewEngine(cfg.Pool.EngineConfig(cfg.Telemetry), &poolcache.Dependencies{
		Candidates: candidates,
		Ledger:     purchaseRepo,
		Clock:      poolcache.SystemClock{},
		Logger:     log,
		Meter:      meterProvider.Meter(),
	})
	if err != nil {
		log.Fatal("[Main] Не удалось создать движок пулов", "error", err)
	}
	examService := service.NewExamService(engine, questionRepo, purchaseRepo, candidates, log)

	// Восстанавливаем историю покупок, чтобы общие и уникальные пулы делились как до рестарта
	if cfg.Worker.RestoreWindow > 0 {
		since := time.Now().Add(-cfg.Worker.RestoreWindow)
		if _, err := examService.RestorePurchaseHistory(ctx, since); err != nil {
			log.Error("[Main] Не удалось восстановить историю покупок", "error", err)
		}
	}

	// Прогрев общих пулов
	if len(cfg.Worker.WarmupSubjects) > 0 {
		built, err := engine.WarmupCache(ctx, cfg.Worker.WarmupSubjects)
		if err != nil {
			log.Warn("[Main] Прогрев завершён с ошибками", "built", built, "error", err)
		}
	}

	// Фоновые задачи
	worker := service.NewMaintenanceWorker(engine, service.NewStatsReportService(log), newNotifier(cfg, log), cfg.Telemetry.ReportPath, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx, cfg.Worker.SweepInterval, cfg.Telemetry.ReportInterval)
	}()

	log.Info("[Main] Движок пулов запущен", "version", version)
	<-ctx.Done()
	log.Info("[Main] Получен сигнал остановки")
	<-done

	// Финальный отчёт и выгрузка метрик
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	worker.ReportOnce(shutdownCtx)
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("[Main] Ошибка остановки метрик", "error", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	log.Info("[Main] Остановлен")
}

// newCandidateCache выбирает хранилище кеша кандидатов по candidates.cache_backend.
// В режиме auto недоступный Redis не мешает запуску: используется память.
func newCandidateCache(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.CacheRepository, redis.UniversalClient) {
	backend := cfg.Candidates.CacheBackend
	if backend == "auto" {
		backend = "memory"
		if cfg.Redis.IsConfigured() {
			backend = "redis"
		}
	}

	if backend == "redis" {
		client, err := database.NewUniversalRedisClient(ctx, cfg.Redis)
		if err == nil {
			repo, rerr := redisRepo.NewCacheRepo(client)
			if rerr == nil {
				log.Info("[Main] Кеш кандидатов: Redis", "mode", cfg.Redis.Mode)
				return repo, client
			}
			client.Close()
			err = rerr
		}
		if cfg.Candidates.CacheBackend == "redis" {
			log.Fatal("[Main] Redis недоступен", "error", err)
		}
		log.Warn("[Main] Redis недоступен, кеш кандидатов в памяти", "error", err)
	}

	log.Info("[Main] Кеш кандидатов: память процесса", "ttl", cfg.Candidates.CacheTTL.String())
	return memoryRepo.NewCacheRepo(cfg.Candidates.CacheTTL, cfg.Candidates.CleanupInterval), nil
}

func newNotifier(cfg *config.Config, log *logger.Logger) service.RecommendationNotifier {
	if !cfg.Email.Enabled {
		return &service.NoopNotifier{Log: log}
	}
	n, err := service.NewResendNotifier(cfg.Email.ResendAPIKey, cfg.Email.From, cfg.Email.DigestTo, log)
	if err != nil {
		log.Warn("[Main] Рассылка рекомендаций отключена", "error", err)
		return &service.NoopNotifier{Log: log}
	}
	return n
}
