package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MetricsCollector 数据库指标收集器
type MetricsCollector struct {
	db              *sql.DB
	logger          *logrus.Logger
	collectInterval time.Duration

	// Prometheus指标
	dbConnectionsGauge *prometheus.GaugeVec
	dbWritesCounter    *prometheus.CounterVec
	dbWriteDuration    *prometheus.HistogramVec
	dbErrorsCounter    *prometheus.CounterVec
}

var (
	sharedConnGauge    *prometheus.GaugeVec
	sharedWriteCounter *prometheus.CounterVec
	sharedWriteHist    *prometheus.HistogramVec
	sharedErrCounter   *prometheus.CounterVec
)

func init() {
	sharedConnGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_store_connections_total",
			Help: "Number of store connections in different states",
		},
		[]string{"state"}, // states: idle, in_use, open
	)

	sharedWriteCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_store_writes_total",
			Help: "Total number of store write operations",
		},
		[]string{"entity", "operation", "status"},
	)

	sharedWriteHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_store_write_duration_seconds",
			Help:    "Duration of store write operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity", "operation"},
	)

	sharedErrCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_store_errors_total",
			Help: "Total number of store errors",
		},
		[]string{"entity", "operation"},
	)
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector(db *sql.DB, logger *logrus.Logger) *MetricsCollector {
	return &MetricsCollector{
		db:              db,
		logger:          logger,
		collectInterval: 15 * time.Second, // 默认15秒收集一次
		dbConnectionsGauge: sharedConnGauge,
		dbWritesCounter:    sharedWriteCounter,
		dbWriteDuration:    sharedWriteHist,
		dbErrorsCounter:    sharedErrCounter,
	}
}

// Start 启动周期性连接池指标收集
func (mc *MetricsCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(mc.collectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mc.collectPoolStats()
		}
	}
}

// collectPoolStats 收集连接池状态
func (mc *MetricsCollector) collectPoolStats() {
	stats := mc.db.Stats()
	mc.dbConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
	mc.dbConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
	mc.dbConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
}

// ObserveWrite 记录一次写操作
func (mc *MetricsCollector) ObserveWrite(entity, operation string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		mc.dbErrorsCounter.WithLabelValues(entity, operation).Inc()
	}
	mc.dbWritesCounter.WithLabelValues(entity, operation, status).Inc()
	mc.dbWriteDuration.WithLabelValues(entity, operation).Observe(duration.Seconds())
}

const writeStartKey = "metrics:write_start"

// Instrument 给gorm连接挂上写路径指标回调
// 所有仓库的增删改都经过这里打点，实体名取语句的表名
func (mc *MetricsCollector) Instrument(db *gorm.DB) error {
	if err := db.Callback().Create().Before("gorm:create").Register("metrics:before_create", mc.beforeWrite); err != nil {
		return err
	}
	if err := db.Callback().Create().After("gorm:create").Register("metrics:after_create", mc.afterWrite("create")); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("metrics:before_update", mc.beforeWrite); err != nil {
		return err
	}
	if err := db.Callback().Update().After("gorm:update").Register("metrics:after_update", mc.afterWrite("update")); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("metrics:before_delete", mc.beforeWrite); err != nil {
		return err
	}
	if err := db.Callback().Delete().After("gorm:delete").Register("metrics:after_delete", mc.afterWrite("delete")); err != nil {
		return err
	}
	return nil
}

func (mc *MetricsCollector) beforeWrite(tx *gorm.DB) {
	tx.InstanceSet(writeStartKey, time.Now())
}

func (mc *MetricsCollector) afterWrite(operation string) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		v, ok := tx.InstanceGet(writeStartKey)
		if !ok {
			return
		}
		start, ok := v.(time.Time)
		if !ok {
			return
		}
		entity := tx.Statement.Table
		if entity == "" {
			entity = "unknown"
		}
		mc.ObserveWrite(entity, operation, time.Since(start), tx.Error)
	}
}
