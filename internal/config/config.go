package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	App         AppConfig        `mapstructure:"app"`
	Database    DatabaseConfig   `mapstructure:"database"`
	AI          AIConfig         `mapstructure:"ai"`
	Search      SearchConfig     `mapstructure:"search"`
	Pipeline    PipelineConfig   `mapstructure:"pipeline"`
	Attachments AttachmentConfig `mapstructure:"attachments"`
}

type AppConfig struct {
	Env     string `mapstructure:"env"`
	DataDir string `mapstructure:"data_dir"`
}

type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms"`
	MaxOpenConns  int    `mapstructure:"max_open_conns"`
	MaxIdleConns  int    `mapstructure:"max_idle_conns"`
}

type AIConfig struct {
	Provider         string   `mapstructure:"provider"`
	APIKey           string   `mapstructure:"api_key"`
	BaseURL          string   `mapstructure:"base_url"`
	DefaultModel     string   `mapstructure:"default_model"`
	Temperature      float64  `mapstructure:"temperature"`
	MaxTokens        int      `mapstructure:"max_tokens"`
	MaxTokensEnabled bool     `mapstructure:"max_tokens_enabled"`
	ContextCount     int      `mapstructure:"context_count"`
	SystemPrompt     string   `mapstructure:"system_prompt"`
	VisionModels     []string `mapstructure:"vision_models"`
	NamingModel      string   `mapstructure:"naming_model"`
	AutoNaming       bool     `mapstructure:"auto_naming"`
}

type SearchConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Endpoint   string `mapstructure:"endpoint"`
	APIKey     string `mapstructure:"api_key"`
	MaxResults int    `mapstructure:"max_results"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

type PipelineConfig struct {
	WriteDebounceMs int `mapstructure:"write_debounce_ms"`
	EventThrottleMs int `mapstructure:"event_throttle_ms"`
}

type AttachmentConfig struct {
	Dir          string   `mapstructure:"dir"`
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

var AppConfigInstance *Config

// LoadConfig 加载配置
func LoadConfig() error {
	// 设置默认值
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.data_dir", "./data")
	viper.SetDefault("database.path", "./data/chat.db")
	viper.SetDefault("database.busy_timeout_ms", 5000)
	viper.SetDefault("database.max_open_conns", 1)
	viper.SetDefault("database.max_idle_conns", 1)

	// AI配置默认值
	viper.SetDefault("ai.provider", "openai")
	viper.SetDefault("ai.default_model", "gpt-4o-mini")
	viper.SetDefault("ai.temperature", 0.7)
	viper.SetDefault("ai.max_tokens", 0)
	viper.SetDefault("ai.max_tokens_enabled", false)
	viper.SetDefault("ai.context_count", 10)
	viper.SetDefault("ai.system_prompt", "")
	viper.SetDefault("ai.vision_models", []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo"})
	viper.SetDefault("ai.naming_model", "")
	viper.SetDefault("ai.auto_naming", true)

	// 搜索增强配置默认值
	viper.SetDefault("search.enabled", false)
	viper.SetDefault("search.endpoint", "")
	viper.SetDefault("search.max_results", 5)
	viper.SetDefault("search.timeout_sec", 10)

	// 流水线配置默认值
	viper.SetDefault("pipeline.write_debounce_ms", 200)
	viper.SetDefault("pipeline.event_throttle_ms", 100)

	// 附件配置默认值
	viper.SetDefault("attachments.dir", "./data/attachments")
	viper.SetDefault("attachments.max_size", 15728640) // 15MB
	viper.SetDefault("attachments.allowed_types", []string{".png", ".jpg", ".jpeg", ".webp", ".pdf", ".txt", ".md"})

	// 读取环境变量
	viper.SetEnvPrefix("AICHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 从环境变量读取
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		viper.Set("ai.api_key", apiKey)
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		viper.Set("database.path", dbPath)
	}

	// 读取配置文件（可选）
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	AppConfigInstance = cfg
	return nil
}

// GetAppConfig 获取全局配置实例
func GetAppConfig() *Config {
	return AppConfigInstance
}

// LoadAppConfig 加载并返回配置（用于cmd入口）
func LoadAppConfig() (*Config, error) {
	if err := LoadConfig(); err != nil {
		return nil, err
	}
	return AppConfigInstance, nil
}

// WatchConfig 监听配置文件变更并热更新
func WatchConfig(onChange func()) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg := &Config{}
		if err := viper.Unmarshal(cfg); err != nil {
			return
		}
		AppConfigInstance = cfg
		if onChange != nil {
			onChange()
		}
	})
	viper.WatchConfig()
}

// IsVisionModel 判断模型是否支持图片输入
func (c *AIConfig) IsVisionModel(model string) bool {
	for _, m := range c.VisionModels {
		if strings.EqualFold(m, model) {
			return true
		}
	}
	return false
}
