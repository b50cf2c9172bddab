package postgres

import (
	"embed"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// InitDB connects to Postgres and applies migrations. An empty migrationsDir
// uses the migrations compiled into the binary.
func InitDB(dsn, migrationsDir string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrateDB(db, migrationsDir); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info("Database connected and migrated")
	return db, nil
}

func migrateDB(db *sqlx.DB, dir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	goose.SetLogger(log.StandardLogger())
	if dir != "" {
		goose.SetBaseFS(nil)
	} else {
		goose.SetBaseFS(embedMigrations)
		dir = "migrations"
	}
	return goose.Up(db.DB, dir)
}
