package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/config"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/lib/metrics"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	DB      *sql.DB
	Metrics *metrics.Metrics
}

// DSN строка подключения к Postgres
func DSN(db config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		db.User,
		db.Password,
		db.Host,
		db.Port,
		db.Name,
	)
}

// NewApp создаёт новый экземпляр App
func NewApp(log *slog.Logger, cfg *config.Config) (*App, error) {
	db, err := sql.Open("postgres", DSN(cfg.Database))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	app := &App{
		Config:  cfg,
		Logger:  log,
		DB:      db,
		Metrics: metrics.New(),
	}

	return app, nil
}
