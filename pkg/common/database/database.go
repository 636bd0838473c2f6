package database

import (
	"fmt"
	"sync"

	"github.com/synaptica-ai/specimen-tracking/pkg/common/config"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	db     *gorm.DB
	dbOnce sync.Once
)

// Get opens the configured store once per process. STT_DB_DRIVER selects
// postgres (default) or an embedded sqlite file.
func Get() (*gorm.DB, error) {
	var err error
	dbOnce.Do(func() {
		cfg := config.Load()
		switch cfg.DBDriver {
		case "sqlite":
			db, err = OpenSQLite(cfg.SQLitePath)
		case "postgres", "":
			db, err = openPostgres(cfg)
		default:
			err = fmt.Errorf("unsupported STT_DB_DRIVER %q", cfg.DBDriver)
		}
		if err != nil {
			logger.Log.WithError(err).WithField("driver", cfg.DBDriver).Error("Failed to open database")
			return
		}

		logger.Log.WithField("driver", cfg.DBDriver).Info("Connected to database")
	})

	return db, err
}

func openPostgres(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.PostgresHost,
		cfg.PostgresUser,
		cfg.PostgresPassword,
		cfg.PostgresDB,
		cfg.PostgresPort,
		cfg.PostgresSSLMode,
	)
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
}

// OpenSQLite opens a sqlite database. Use ":memory:" for throwaway stores.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:"
	}
	conn, err := gorm.Open(sqlite.Open(dsn+"?_foreign_keys=on"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers; a single connection also keeps :memory: shared.
	sqlDB.SetMaxOpenConns(1)
	return conn, nil
}

func Close() error {
	if db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
