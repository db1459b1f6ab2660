package database

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/aichat/client-go/internal/config"
	"github.com/aichat/client-go/internal/interfaces"
)

// DatabaseWrapper 数据库包装器，实现DatabaseInterface
type DatabaseWrapper struct {
	db            *gorm.DB
	sqlDB         *sql.DB
	config        *config.Config
	healthChecker *HealthChecker
	metrics       *MetricsCollector
}

// NewDatabase 创建新的数据库实例
func NewDatabase(cfg *config.Config) (interfaces.DatabaseInterface, error) {
	db, err := openSQLite(&cfg.Database)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	logrusLogger := logrus.New()
	logrusLogger.SetLevel(logrus.InfoLevel)

	wrapper := &DatabaseWrapper{
		db:            db,
		sqlDB:         sqlDB,
		config:        cfg,
		healthChecker: NewHealthChecker(sqlDB, logrusLogger),
		metrics:       NewMetricsCollector(sqlDB, logrusLogger),
	}

	return wrapper, nil
}

// GetDB 获取gorm数据库连接
func (w *DatabaseWrapper) GetDB() *gorm.DB {
	return w.db
}

// Close 关闭数据库连接
func (w *DatabaseWrapper) Close() error {
	if w.healthChecker != nil {
		w.healthChecker.Stop()
	}
	return w.sqlDB.Close()
}

// HealthCheck 执行健康检查
func (w *DatabaseWrapper) HealthCheck() error {
	return w.sqlDB.Ping()
}

// HealthChecker 获取健康检查器
func (w *DatabaseWrapper) HealthChecker() *HealthChecker {
	return w.healthChecker
}

// Metrics 获取指标收集器
func (w *DatabaseWrapper) Metrics() *MetricsCollector {
	return w.metrics
}
