package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/secrets/internal/config"
	"github.com/mrlokans/secrets/internal/entities"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("record already exists")
	// ErrStoreUnavailable wraps every failure of the backing store itself.
	// Callers must propagate it rather than treat it as a miss.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// SQLite pragmas applied through the DSN. _txlock=immediate takes the write
// lock at BEGIN so concurrent writers queue on busy_timeout instead of failing
// with SQLITE_BUSY on lock upgrade.
const dsnParams = "_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate"

type Database struct {
	DB *gorm.DB
}

// DSN appends the connection pragmas to a database path. Paths that already
// carry query parameters are used as given.
func DSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?" + dsnParams
}

// Open connects to the SQLite database at cfg.Path, retrying with exponential
// backoff until cfg.ConnectTimeout elapses, and runs migrations.
func Open(ctx context.Context, cfg config.Database, log *zap.Logger) (*Database, error) {
	if log == nil {
		log = zap.NewNop()
	}

	gormCfg := &gorm.Config{
		Logger:         newGormLogger(log),
		TranslateError: true,
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	if cfg.ConnectTimeout > 0 {
		bo.MaxElapsedTime = cfg.ConnectTimeout
	}

	var db *gorm.DB
	connect := func() error {
		var err error
		db, err = gorm.Open(sqlite.Open(DSN(cfg.Path)), gormCfg)
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("database not ready, retrying",
			zap.String("path", cfg.Path),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(connect, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, fmt.Errorf("%w: failed to connect to database: %w", ErrStoreUnavailable, err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB, _ := db.DB()
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	database := &Database{DB: db}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}

	log.Info("database initialized", zap.String("path", cfg.Path))
	return database, nil
}

// Migrate creates or updates the tables the service owns.
func (d *Database) Migrate() error {
	err := d.DB.AutoMigrate(
		&entities.User{},
		&entities.OAuthToken{},
		&entities.AuditEvent{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// SQLDB exposes the underlying connection pool for components that work on
// database/sql directly, such as the session store.
func (d *Database) SQLDB() (*sql.DB, error) {
	return d.DB.DB()
}

// Ping checks that the database answers.
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return Classify(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return Classify(err)
	}
	return nil
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Classify maps driver and ORM errors onto the store's error taxonomy.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return ErrConflict
		}
	}

	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// IsUnavailable reports whether err came from the store failing rather than
// from a missing or conflicting record.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

type gormWriter struct {
	log *zap.SugaredLogger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Debugf(format, args...)
}

func newGormLogger(log *zap.Logger) logger.Interface {
	return logger.New(gormWriter{log: log.Named("gorm").Sugar()}, logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
