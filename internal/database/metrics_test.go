package database

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type metricsRecord struct {
	ID   string `gorm:"primaryKey;size:36"`
	Name string `gorm:"size:50"`
}

func (metricsRecord) TableName() string {
	return "metrics_records"
}

func newInstrumentedDB(t *testing.T) (*gorm.DB, *MetricsCollector) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&metricsRecord{}))

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	collector := NewMetricsCollector(sqlDB, logger)
	require.NoError(t, collector.Instrument(db))
	return db, collector
}

// TestInstrumentCountsWrites 测试gorm写路径经回调打点
func TestInstrumentCountsWrites(t *testing.T) {
	db, _ := newInstrumentedDB(t)

	created := testutil.ToFloat64(sharedWriteCounter.WithLabelValues("metrics_records", "create", "ok"))
	require.NoError(t, db.Create(&metricsRecord{ID: uuid.New().String(), Name: "one"}).Error)
	require.NoError(t, db.Create(&metricsRecord{ID: uuid.New().String(), Name: "two"}).Error)
	assert.InDelta(t, created+2,
		testutil.ToFloat64(sharedWriteCounter.WithLabelValues("metrics_records", "create", "ok")), 0.001)

	updated := testutil.ToFloat64(sharedWriteCounter.WithLabelValues("metrics_records", "update", "ok"))
	require.NoError(t, db.Model(&metricsRecord{}).Where("name = ?", "one").Update("name", "renamed").Error)
	assert.InDelta(t, updated+1,
		testutil.ToFloat64(sharedWriteCounter.WithLabelValues("metrics_records", "update", "ok")), 0.001)

	deleted := testutil.ToFloat64(sharedWriteCounter.WithLabelValues("metrics_records", "delete", "ok"))
	require.NoError(t, db.Where("name = ?", "two").Delete(&metricsRecord{}).Error)
	assert.InDelta(t, deleted+1,
		testutil.ToFloat64(sharedWriteCounter.WithLabelValues("metrics_records", "delete", "ok")), 0.001)
}

// TestInstrumentCountsErrors 测试失败写入计入错误计数
func TestInstrumentCountsErrors(t *testing.T) {
	db, _ := newInstrumentedDB(t)

	id := uuid.New().String()
	require.NoError(t, db.Create(&metricsRecord{ID: id, Name: "dup"}).Error)

	failed := testutil.ToFloat64(sharedErrCounter.WithLabelValues("metrics_records", "create"))
	require.Error(t, db.Create(&metricsRecord{ID: id, Name: "dup"}).Error, "主键冲突应失败")
	assert.InDelta(t, failed+1,
		testutil.ToFloat64(sharedErrCounter.WithLabelValues("metrics_records", "create")), 0.001)
}

// TestObserveWriteStatusLabels 测试写观测的状态标签
func TestObserveWriteStatusLabels(t *testing.T) {
	_, collector := newInstrumentedDB(t)

	ok := testutil.ToFloat64(sharedWriteCounter.WithLabelValues("sample_entity", "create", "ok"))
	collector.ObserveWrite("sample_entity", "create", 3*time.Millisecond, nil)
	assert.InDelta(t, ok+1,
		testutil.ToFloat64(sharedWriteCounter.WithLabelValues("sample_entity", "create", "ok")), 0.001)

	errored := testutil.ToFloat64(sharedWriteCounter.WithLabelValues("sample_entity", "create", "error"))
	collector.ObserveWrite("sample_entity", "create", 3*time.Millisecond, errors.New("disk full"))
	assert.InDelta(t, errored+1,
		testutil.ToFloat64(sharedWriteCounter.WithLabelValues("sample_entity", "create", "error")), 0.001)
}
