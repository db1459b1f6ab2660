package bootstrap

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/aichat/client-go/internal/config"
	"github.com/aichat/client-go/internal/database"
	"github.com/aichat/client-go/internal/di"
	"github.com/aichat/client-go/internal/events"
	"github.com/aichat/client-go/internal/interfaces"
	"github.com/aichat/client-go/internal/logger"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	cleanupTasks []func() error
}

// Global app instance for entrypoints to access
var globalApp *App

// GetApp returns the global app instance
func GetApp() *App {
	return globalApp
}

// Init bootstraps configuration, logger, database and the DI container
// shared by every entrypoint.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize structured logger.
	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	// Load dynamic configuration.
	if err := config.LoadConfig(); err != nil {
		return nil, err
	}

	app := &App{}

	// Build the DI container.
	container := di.InitContainer()
	if err := di.RegisterProviders(container); err != nil {
		return nil, err
	}

	// Open the store and apply pending migrations.
	err := container.Invoke(func(db interfaces.DatabaseInterface, factory *database.MigrationManagerFactory) error {
		sqlDB, err := db.GetDB().DB()
		if err != nil {
			return err
		}
		manager, err := factory.CreateManager(sqlDB)
		if err != nil {
			return err
		}
		defer manager.Close()
		if err := manager.Up(); err != nil {
			return err
		}
		app.cleanupTasks = append(app.cleanupTasks, db.Close)

		// Background store observability: health pings plus pool and
		// write-path metrics.
		dbLogger := &logrus.Logger{
			Out:       os.Stdout,
			Formatter: &logrus.JSONFormatter{},
			Level:     logrus.WarnLevel,
		}
		collector := database.NewMetricsCollector(sqlDB, dbLogger)
		if err := collector.Instrument(db.GetDB()); err != nil {
			return err
		}
		checker := database.NewHealthChecker(sqlDB, dbLogger)

		monitorCtx, stopMonitors := context.WithCancel(context.Background())
		go collector.Start(monitorCtx)
		go checker.Start(monitorCtx)
		app.cleanupTasks = append(app.cleanupTasks, func() error {
			stopMonitors()
			return nil
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = container.Invoke(func(bus *events.Bus) {
		app.cleanupTasks = append(app.cleanupTasks, func() error {
			bus.Close()
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Reload config values on file change.
	config.WatchConfig(func() {
		logger.Info("Configuration reloaded")
	})

	logger.Info("Application bootstrapped",
		zap.String("env", config.GetAppConfig().App.Env),
		zap.String("database", config.GetAppConfig().Database.Path))

	globalApp = app
	return app, nil
}

// Shutdown runs cleanup tasks in reverse registration order.
func (a *App) Shutdown() {
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			logger.Error("Cleanup task failed", zap.Error(err))
		}
	}
	logger.Sync()
}
