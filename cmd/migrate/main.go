package main

import (
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/jackc/pgx/v5/stdlib"

	"bookwise/backend/internal/config"
	"bookwise/backend/internal/store/postgres"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "bookwise-migrate"),
	)
	os.Exit(run(os.Args[1:], log))
}

func run(args []string, log *slog.Logger) int {
	cmd := "up"
	if len(args) >= 1 {
		cmd = args[0]
	}

	var forceVersion int
	switch cmd {
	case "up", "down", "version":
	case "force":
		if len(args) < 2 {
			log.Error("usage: migrate force <version>")
			return 1
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			log.Error("invalid version", slog.String("version", args[1]), slog.Any("err", err))
			return 1
		}
		forceVersion = v
	default:
		log.Error("unknown command (want up, down, force, version)", slog.String("command", cmd))
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		return 1
	}
	databaseURL := strings.TrimSpace(cfg.Database.URL)
	if databaseURL == "" {
		log.Error("BOOKWISE_DATABASE_URL is required")
		return 1
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		log.Error("open db failed", slog.Any("err", err))
		return 1
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		log.Error("ping db failed", slog.Any("err", err))
		return 1
	}

	m, err := postgres.NewMigrator(db)
	if err != nil {
		_ = db.Close()
		log.Error("migrator setup failed", slog.Any("err", err))
		return 1
	}
	defer func() { _, _ = m.Close() }()

	switch cmd {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Error("migrate up failed", slog.Any("err", err))
			return 1
		}
	case "down":
		if err := m.Steps(-1); err != nil {
			log.Error("migrate down failed", slog.Any("err", err))
			return 1
		}
	case "force":
		if err := m.Force(forceVersion); err != nil {
			log.Error("force version failed", slog.Int("version", forceVersion), slog.Any("err", err))
			return 1
		}
		log.Info("forced version", slog.Int("version", forceVersion))
		return 0
	case "version":
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			log.Error("read version failed", slog.Any("err", err))
			return 1
		}
		log.Info("schema version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
		return 0
	}

	log.Info("migrations complete", slog.String("command", cmd))
	return 0
}
