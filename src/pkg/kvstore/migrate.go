package kvstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrMigrationFailed 迁移失败
var ErrMigrationFailed = errors.New("migration failed")

// migrateUp 将 schema 升级到最新版本，返回迁移前后的版本号
func migrateUp(db *sql.DB, logger logrus.FieldLogger) (uint, uint, error) {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create iofs source: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	// 不调用 mig.Close()，它会连带关闭 db
	mig, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	from, dirty, _ := mig.Version()
	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return from, from, fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}
	to, _, _ := mig.Version()

	if from != to {
		logger.WithFields(logrus.Fields{
			"from_version": from,
			"to_version":   to,
			"was_dirty":    dirty,
		}).Info("database migration completed")
	} else {
		logger.WithField("version", to).Debug("database schema is up to date")
	}
	return from, to, nil
}
