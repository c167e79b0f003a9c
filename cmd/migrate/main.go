package main

import (
	"database/sql"
	"errors"
	"flag"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/yourusername/exam-pool/internal/config"
	"github.com/yourusername/exam-pool/internal/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", envOr("CONFIG_PATH", "config/config.yaml"), "путь к файлу конфигурации")
		up         = flag.Bool("up", false, "применить все миграции")
		down       = flag.Int("down", 0, "откатить N миграций")
		force      = flag.Int("force", -1, "принудительно установить версию (снимает dirty)")
	)
	flag.Parse()

	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("[Migrate] Не удалось загрузить конфигурацию", "error", err)
	}

	db, err := sql.Open("postgres", cfg.Database.PostgresConnectionString())
	if err != nil {
		log.Fatal("[Migrate] Не удалось открыть БД", "error", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal("[Migrate] БД недоступна", "error", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal("[Migrate] Не удалось создать драйвер", "error", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+cfg.Database.MigrationsPath, "postgres", driver)
	if err != nil {
		log.Fatal("[Migrate] Не удалось создать экземпляр migrate", "error", err)
	}

	switch {
	case *force >= 0:
		err = m.Force(*force)
	case *down > 0:
		err = m.Steps(-*down)
	case *up:
		err = m.Up()
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatal("[Migrate] Ошибка миграции", "error", err)
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		log.Fatal("[Migrate] Не удалось прочитать версию", "error", verr)
	}
	log.Info("[Migrate] Готово", "version", version, "dirty", dirty)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
