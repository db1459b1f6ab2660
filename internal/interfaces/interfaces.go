package interfaces

import (
	"gorm.io/gorm"
)

// DatabaseInterface 数据库接口
type DatabaseInterface interface {
	GetDB() *gorm.DB
	Close() error
	HealthCheck() error
}

// ConfigInterface 配置接口
type ConfigInterface interface {
	GetConfig() interface{}
	Reload() error
}

// EventPublisher 事件发布接口
// 发布方不能假设事件被同步投递
type EventPublisher interface {
	Publish(topic string, payload interface{})
}
