package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Storage StorageConfig
	Log     LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	var storage StorageConfig
	if err := env.Parse(&storage); err != nil {
		return nil, fmt.Errorf("parse storage config: %w", err)
	}

	var logCfg LogConfig
	if err := env.Parse(&logCfg); err != nil {
		return nil, fmt.Errorf("parse log config: %w", err)
	}

	return &Config{Server: server, AI: ai, Storage: storage, Log: logCfg}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	Port           string   `env:"PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("parse server config: %w", err)
	}

	port := strings.TrimSpace(cfg.Port)
	if port == "" {
		port = "8080"
	}

	switch {
	case strings.Contains(port, " "):
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	case strings.Contains(port, ":"):
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		cfg.Addr = port
	default:
		cfg.Addr = ":" + port
	}

	origins := cfg.AllowedOrigins[:0]
	for _, origin := range cfg.AllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	cfg.AllowedOrigins = origins
	return cfg, nil
}

// StorageConfig 描述持久化配置。
type StorageConfig struct {
	Path      string `env:"DB_PATH" envDefault:"chat.db"`
	StaticDir string `env:"STATIC_DIR" envDefault:"static"`
}

// LogConfig 描述日志配置。
type LogConfig struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
}

// AIConfig 描述情绪分类所用大模型的配置。
type AIConfig struct {
	APIKey          string        `env:"ARK_API_KEY"`
	AccessKey       string        `env:"ARK_ACCESS_KEY"`
	SecretKey       string        `env:"ARK_SECRET_KEY"`
	Model           string        `env:"ARK_MODEL"`
	BaseURL         string        `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	Region          string        `env:"ARK_REGION" envDefault:"cn-beijing"`
	Timeout         time.Duration `env:"ARK_TIMEOUT" envDefault:"60s"`
	Temperature     *float64      `env:"ARK_TEMPERATURE"`
	MaxTokens       *int          `env:"EMOTION_MAX_TOKENS"`
	ReasoningBudget int           `env:"EMOTION_REASONING_BUDGET" envDefault:"1024"`
	HistoryLimit    int           `env:"EMOTION_HISTORY_LIMIT" envDefault:"10"`
	DefaultAvatar   string        `env:"DEFAULT_AVATAR" envDefault:"/static/default_avatar.png"`
	BreakerTimeout  time.Duration `env:"EMOTION_BREAKER_TIMEOUT" envDefault:"30s"`
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var timeout *time.Duration
	if c.Timeout > 0 {
		val := c.Timeout
		timeout = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		Timeout:     timeout,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	var cfg AIConfig
	if err := env.Parse(&cfg); err != nil {
		return AIConfig{}, fmt.Errorf("parse ai config: %w", err)
	}

	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.Model = strings.TrimSpace(cfg.Model)

	if cfg.ReasoningBudget < 0 {
		return AIConfig{}, fmt.Errorf("invalid EMOTION_REASONING_BUDGET value %d", cfg.ReasoningBudget)
	}
	if cfg.HistoryLimit < 1 {
		cfg.HistoryLimit = 1
	}
	if cfg.MaxTokens != nil && *cfg.MaxTokens < 1 {
		return AIConfig{}, fmt.Errorf("invalid EMOTION_MAX_TOKENS value %d", *cfg.MaxTokens)
	}
	return cfg, nil
}
