package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"harmony/config"
	"harmony/logger"
	"harmony/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ConnectGormDB opens the catalog database selected by cfg.DBDriver and
// migrates the catalog tables.
func ConnectGormDB(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormLogLevel(cfg.DBLogLevel)),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database with GORM: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.DBDriver == "mysql" {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)
	} else {
		// sqlite allows a single writer; one connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := AutoMigrateModels(gormDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	logger.Info("catalog database connected",
		logger.String("driver", cfg.DBDriver),
		logger.String("target", describeTarget(cfg)))
	return gormDB, nil
}

func dialectorFor(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.DBDriver {
	case "", "sqlite":
		if cfg.DBPath != ":memory:" && !strings.HasPrefix(cfg.DBPath, "file:") {
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return sqlite.Open(cfg.DBPath), nil
	case "mysql":
		return mysql.Open(MySQLDSN(cfg)), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}

func describeTarget(cfg *config.Config) string {
	if cfg.DBDriver == "mysql" {
		return fmt.Sprintf("%s:%s/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)
	}
	return cfg.DBPath
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// CloseGormDB 关闭 GORM 数据库连接
func CloseGormDB(gormDB *gorm.DB) error {
	if gormDB == nil {
		return nil
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrateModels creates or updates the catalog and session tables.
func AutoMigrateModels(gormDB *gorm.DB) error {
	if err := gormDB.AutoMigrate(&model.Track{}, &model.SessionState{}); err != nil {
		return fmt.Errorf("failed to auto migrate models: %w", err)
	}
	return nil
}
