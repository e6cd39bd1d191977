package model

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Laisky/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Laisky/errors/v2"

	"github.com/xiaoY233/chat2api/common/config"
	"github.com/xiaoY233/chat2api/common/logger"
)

// DB is the shared database handle. Writes are serialized by gorm's connection
// pool; callers treat reads as snapshots.
var DB *gorm.DB

// InitDB opens the store, runs migrations and reconciles the builtin provider
// catalog. The sqlite default lives under the per-user data directory.
func InitDB() error {
	var err error
	dsn := config.SQLDSN

	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		logger.Logger.Info("using postgres as database")
		DB, err = gorm.Open(postgres.Open(dsn), gormConfig())
	case dsn != "":
		logger.Logger.Info("using mysql as database")
		DB, err = gorm.Open(mysql.Open(dsn), gormConfig())
	default:
		dataDir := config.DataDir()
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return errors.Wrap(err, "create data dir")
		}
		path := filepath.Join(dataDir, "data.db")
		logger.Logger.Info("using sqlite as database", zap.String("path", path))
		DB, err = gorm.Open(sqlite.Open(path+"?_busy_timeout=3000"), gormConfig())
	}
	if err != nil {
		return errors.Wrap(err, "open database")
	}

	if err := migrate(); err != nil {
		return errors.Wrap(err, "migrate database")
	}

	if err := ReconcileBuiltinProviders(); err != nil {
		return errors.Wrap(err, "reconcile builtin providers")
	}

	return nil
}

func gormConfig() *gorm.Config {
	level := gormlogger.Silent
	if config.DebugEnabled {
		level = gormlogger.Warn
	}
	return &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	}
}

func migrate() error {
	return DB.AutoMigrate(
		&Provider{},
		&Account{},
		&Option{},
		&APIKey{},
		&Log{},
	)
}
