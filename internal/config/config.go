package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config 描述了 Leno 在启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Auth      AuthConfig      `json:"auth"`
	LLM       LLMConfig       `json:"llm"`
	Agents    AgentsConfig    `json:"agents"`
	Session   SessionConfig   `json:"session"`
	Storage   StorageConfig   `json:"storage"`
	TaskQueue TaskQueueConfig `json:"task_queue"`
	Alerting  AlertingConfig  `json:"alerting"`
	Resolver  ResolverConfig  `json:"resolver"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string   `json:"address"`
	MetricsAddress string   `json:"metrics_address"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的滚动策略。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// AuthConfig 描述 HTTP 接口的鉴权方式。
type AuthConfig struct {
	Mode      string    `json:"mode"`
	JWT       JWTConfig `json:"jwt"`
	Tokens    []string  `json:"tokens"`
	TokensEnv string    `json:"tokens_env"`
}

// JWTConfig 用于 HS256 令牌校验。
type JWTConfig struct {
	Secret    string `json:"secret"`
	SecretEnv string `json:"secret_env"`
	Issuer    string `json:"issuer"`
	Audience  string `json:"audience"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	BaseURL        string  `json:"base_url"`
	APIKey         string  `json:"api_key"`
	APIKeyEnv      string  `json:"api_key_env"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	MaxTokens      int     `json:"max_tokens"`
	MaxRetries     int     `json:"max_retries"`
	Temperature    float64 `json:"temperature"`
}

// AgentsConfig 描述子智能体目录与会话身份。
type AgentsConfig struct {
	Catalog            string `json:"catalog"`
	Tools              string `json:"tools"`
	DocsDir            string `json:"docs_dir"`
	WorkspaceDir       string `json:"workspace_dir"`
	ManagerApp         string `json:"manager_app"`
	BrokerageApp       string `json:"brokerage_app"`
	User               string `json:"user"`
	Session            string `json:"session"`
	MaxSteps           int    `json:"max_steps"`
	ToolTimeoutSeconds int    `json:"tool_timeout_seconds"`
}

// SessionConfig 选择会话存储后端。
type SessionConfig struct {
	Driver         string `json:"driver"`
	Serialize      bool   `json:"serialize"`
	TTLSeconds     int    `json:"ttl_seconds"`
	LockTTLSeconds int    `json:"lock_ttl_seconds"`
}

// StorageConfig 统一描述 Redis、MySQL、SQLite 等后端的连接信息。
type StorageConfig struct {
	Redis     RedisConfig     `json:"redis"`
	History   HistoryConfig   `json:"history"`
	TaskStore TaskStoreConfig `json:"task_store"`
}

// RedisConfig 被会话存储与任务队列共享。
type RedisConfig struct {
	Address     string `json:"address"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	PasswordEnv string `json:"password_env"`
	DB          int    `json:"db"`
}

// HistoryConfig 选择任务历史的持久化方式。
type HistoryConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	DSN    string `json:"dsn"`
}

// TaskStoreConfig 选择异步任务的存储方式。
type TaskStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// TaskQueueConfig 描述异步任务队列与处理器。
type TaskQueueConfig struct {
	Driver              string         `json:"driver"`
	Workers             int            `json:"workers"`
	MaxRetries          int            `json:"max_retries"`
	RedisKey            string         `json:"redis_key"`
	BlockTimeoutSeconds int            `json:"block_timeout_seconds"`
	RabbitMQ            RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 AMQP 连接。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
}

// AlertingConfig 配置告警出口。
type AlertingConfig struct {
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ResolverConfig 控制名称解析缓存。
type ResolverConfig struct {
	CacheTTLSeconds int   `json:"cache_ttl_seconds"`
	MaxEntries      int64 `json:"max_entries"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// Default 返回未加载任何文件时的配置，相对路径以 baseDir 为基准。
func Default(baseDir string) *Config {
	var cfg Config
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults(baseDir)
	return &cfg
}

// applyEnv 允许通过环境变量覆盖部署相关的字段。
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, target *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
	str("LENO_ADDR", &c.Server.Address)
	str("LENO_LOG_LEVEL", &c.Logging.Level)
	str("LENO_LLM_PROVIDER", &c.LLM.Provider)
	str("LENO_LLM_MODEL", &c.LLM.Model)
	str("LENO_LLM_BASE_URL", &c.LLM.BaseURL)
	str("LENO_AUTH_MODE", &c.Auth.Mode)
	str("LENO_SESSION_DRIVER", &c.Session.Driver)
	str("LENO_REDIS_ADDR", &c.Storage.Redis.Address)
	str("LENO_HISTORY_DRIVER", &c.Storage.History.Driver)
	str("LENO_HISTORY_DSN", &c.Storage.History.DSN)
	str("LENO_TASK_QUEUE", &c.TaskQueue.Driver)
	str("LENO_RABBITMQ_URL", &c.TaskQueue.RabbitMQ.URL)
	str("LENO_ALERT_WEBHOOK", &c.Alerting.WebhookURL)
	if v, ok := lookup("LENO_TASK_WORKERS"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			c.TaskQueue.Workers = n
		}
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":3001"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled {
		c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path, filepath.Join("logs", "audit.log"))
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case "anthropic":
			c.LLM.Model = "claude-sonnet-4-20250514"
		default:
			c.LLM.Model = "gpt-4o-mini"
		}
	}
	if c.LLM.APIKeyEnv == "" {
		switch c.LLM.Provider {
		case "anthropic":
			c.LLM.APIKeyEnv = "ANTHROPIC_API_KEY"
		default:
			c.LLM.APIKeyEnv = "OPENAI_API_KEY"
		}
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.LLM.MaxRetries < 0 {
		c.LLM.MaxRetries = 0
	}

	c.Agents.Catalog = resolvePath(baseDir, c.Agents.Catalog, "agents.yaml")
	c.Agents.Tools = resolvePath(baseDir, c.Agents.Tools, "tools.yaml")
	c.Agents.DocsDir = resolvePath(baseDir, c.Agents.DocsDir, filepath.Join("..", "docs"))
	if c.Agents.ManagerApp == "" {
		c.Agents.ManagerApp = "agent4_app"
	}
	if c.Agents.BrokerageApp == "" {
		c.Agents.BrokerageApp = "stock_agent"
	}
	if c.Agents.User == "" {
		c.Agents.User = "user_1"
	}
	if c.Agents.Session == "" {
		c.Agents.Session = "session_001"
	}
	if c.Agents.MaxSteps <= 0 {
		c.Agents.MaxSteps = 8
	}
	if c.Agents.ToolTimeoutSeconds <= 0 {
		c.Agents.ToolTimeoutSeconds = 10
	}

	if c.Session.Driver == "" {
		c.Session.Driver = "memory"
	}
	if c.Session.LockTTLSeconds <= 0 {
		c.Session.LockTTLSeconds = 30
	}

	if c.Storage.Redis.Address == "" {
		c.Storage.Redis.Address = "127.0.0.1:6379"
	}
	if c.Storage.History.Driver == "" {
		c.Storage.History.Driver = "memory"
	}
	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Workers <= 0 {
		c.TaskQueue.Workers = 4
	}
	if c.TaskQueue.MaxRetries <= 0 {
		c.TaskQueue.MaxRetries = 3
	}
	if c.TaskQueue.RedisKey == "" {
		c.TaskQueue.RedisKey = "leno:tasks"
	}
	if c.TaskQueue.BlockTimeoutSeconds <= 0 {
		c.TaskQueue.BlockTimeoutSeconds = 5
	}
	if c.TaskQueue.RabbitMQ.Queue == "" {
		c.TaskQueue.RabbitMQ.Queue = "leno.tasks"
	}
	if c.TaskQueue.RabbitMQ.Prefetch <= 0 {
		c.TaskQueue.RabbitMQ.Prefetch = c.TaskQueue.Workers
	}

	if c.Alerting.TimeoutSeconds <= 0 {
		c.Alerting.TimeoutSeconds = 5
	}

	if c.Resolver.CacheTTLSeconds <= 0 {
		c.Resolver.CacheTTLSeconds = 300
	}
	if c.Resolver.MaxEntries <= 0 {
		c.Resolver.MaxEntries = 10000
	}

	c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir, "data")
	c.Agents.WorkspaceDir = resolveUnder(baseDir, c.Agents.WorkspaceDir, c.Runtime.DataDir, "workspace")
	if c.Storage.History.Driver == "file" {
		c.Storage.History.Path = resolveUnder(baseDir, c.Storage.History.Path, c.Runtime.DataDir, "history.jsonl")
	}
	if c.Storage.History.Driver == "sqlite" && c.Storage.History.DSN == "" {
		c.Storage.History.DSN = filepath.Join(c.Runtime.DataDir, "leno.db")
	}
}

// resolveUnder 解析用户填写的路径；未填写时落在已解析的 dataDir 下。
func resolveUnder(baseDir, value, dataDir, name string) string {
	if value == "" {
		return filepath.Join(dataDir, name)
	}
	return resolvePath(baseDir, value, "")
}

func resolvePath(baseDir, value, fallback string) string {
	if value == "" {
		value = fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}

// LLMTimeout 返回单次模型调用的超时。
func (c LLMConfig) LLMTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResolveAPIKey 优先使用显式配置，其次读取环境变量。
func (c LLMConfig) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return os.Getenv(c.APIKeyEnv)
}

// ToolTimeout 返回单次工具调用的超时。
func (c AgentsConfig) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutSeconds) * time.Second
}

// TTL 返回会话过期时间，0 表示永不过期。
func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// LockTTL 返回分布式锁的租期。
func (c SessionConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// ResolvePassword 返回 Redis 密码。
func (c RedisConfig) ResolvePassword() string {
	if c.Password != "" {
		return c.Password
	}
	if c.PasswordEnv != "" {
		return os.Getenv(c.PasswordEnv)
	}
	return ""
}

// ResolveSecret 返回 JWT 签名密钥。
func (c JWTConfig) ResolveSecret() string {
	if c.Secret != "" {
		return c.Secret
	}
	if c.SecretEnv != "" {
		return os.Getenv(c.SecretEnv)
	}
	return ""
}

// ResolveTokens 合并静态令牌与环境变量中逗号分隔的令牌。
func (c AuthConfig) ResolveTokens() []string {
	tokens := append([]string(nil), c.Tokens...)
	if c.TokensEnv != "" {
		for _, tok := range strings.Split(os.Getenv(c.TokensEnv), ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				tokens = append(tokens, tok)
			}
		}
	}
	return tokens
}

// BlockTimeout 返回 Redis 队列阻塞读取的等待时间。
func (c TaskQueueConfig) BlockTimeout() time.Duration {
	return time.Duration(c.BlockTimeoutSeconds) * time.Second
}

// CacheTTL 返回名称解析缓存的有效期。
func (c ResolverConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}
