package di

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/dig"
	"gorm.io/gorm"

	"github.com/aichat/client-go/internal/config"
	"github.com/aichat/client-go/internal/database"
	"github.com/aichat/client-go/internal/errors"
	"github.com/aichat/client-go/internal/events"
	"github.com/aichat/client-go/internal/interfaces"
	"github.com/aichat/client-go/internal/logger"
	"github.com/aichat/client-go/internal/provider"
	"github.com/aichat/client-go/internal/repository"
	"github.com/aichat/client-go/internal/services"
)

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container) error {
	// 注册配置
	if err := container.Provide(func() (*config.Config, error) {
		cfg := config.GetAppConfig()
		if cfg == nil {
			return nil, fmt.Errorf("config not loaded")
		}
		return cfg, nil
	}); err != nil {
		return err
	}

	if err := container.Provide(func(cfg *config.Config) interfaces.ConfigInterface {
		return &configWrapper{config: cfg}
	}); err != nil {
		return err
	}

	// 注册数据库
	if err := container.Provide(func(cfg *config.Config) (interfaces.DatabaseInterface, error) {
		return database.NewDatabase(cfg)
	}); err != nil {
		return err
	}

	if err := container.Provide(func(db interfaces.DatabaseInterface) *gorm.DB {
		return db.GetDB()
	}); err != nil {
		return err
	}

	// 注册迁移管理器工厂
	if err := container.Provide(func() *database.MigrationManagerFactory {
		logrusLogger := &logrus.Logger{
			Out:       os.Stdout,
			Formatter: &logrus.JSONFormatter{},
			Level:     logrus.InfoLevel,
		}
		return database.NewMigrationManagerFactory("./migrations", logrusLogger)
	}); err != nil {
		return err
	}

	// 注册仓库聚合
	if err := container.Provide(repository.NewRepositories); err != nil {
		return err
	}

	// 注册事件总线，服务侧只依赖发布接口
	if err := container.Provide(func(cfg *config.Config) *events.Bus {
		throttle := time.Duration(cfg.Pipeline.EventThrottleMs) * time.Millisecond
		return events.NewBus(throttle, logger.GetLogger())
	}); err != nil {
		return err
	}

	if err := container.Provide(func(bus *events.Bus) interfaces.EventPublisher {
		return bus
	}); err != nil {
		return err
	}

	// 注册缓冲写入器
	if err := container.Provide(func(cfg *config.Config) *services.BufferedWriter {
		debounce := time.Duration(cfg.Pipeline.WriteDebounceMs) * time.Millisecond
		return services.NewBufferedWriter(debounce)
	}); err != nil {
		return err
	}

	// 注册提供商注册表，内置OpenAI兼容实现
	if err := container.Provide(func(cfg *config.Config) *provider.Registry {
		registry := provider.NewRegistry()
		registry.Register(provider.NewOpenAIProvider(&cfg.AI))
		return registry
	}); err != nil {
		return err
	}

	// 注册管线服务
	if err := container.Provide(func(cfg *config.Config) *services.SearchService {
		return services.NewSearchService(&cfg.Search)
	}); err != nil {
		return err
	}

	if err := container.Provide(func(repos *repository.Repositories, cfg *config.Config, search *services.SearchService) *services.ContextAssembler {
		return services.NewContextAssembler(repos, &cfg.AI, search)
	}); err != nil {
		return err
	}

	if err := container.Provide(services.NewBlockManager); err != nil {
		return err
	}

	if err := container.Provide(func(
		repos *repository.Repositories,
		assembler *services.ContextAssembler,
		blocks *services.BlockManager,
		registry *provider.Registry,
		cfg *config.Config,
		bus interfaces.EventPublisher,
	) *services.StreamOrchestrator {
		return services.NewStreamOrchestrator(repos, assembler, blocks, registry, &cfg.AI, bus)
	}); err != nil {
		return err
	}

	if err := container.Provide(services.NewConversationService); err != nil {
		return err
	}

	if err := container.Provide(func(repos *repository.Repositories, cfg *config.Config) *services.AttachmentService {
		return services.NewAttachmentService(repos, &cfg.Attachments)
	}); err != nil {
		return err
	}

	// 注册错误翻译器
	if err := container.Provide(errors.NewErrorTranslator); err != nil {
		return err
	}

	return nil
}

// configWrapper 配置包装器，实现ConfigInterface
type configWrapper struct {
	config *config.Config
}

func (c *configWrapper) GetConfig() interface{} {
	return c.config
}

func (c *configWrapper) Reload() error {
	return config.LoadConfig()
}
