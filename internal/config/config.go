package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AI       AIConfig
	Agents   AgentsConfig
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string
	Environment string
	Version     string
	Debug       bool
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string
	Port         int
	Mode         string
	ReadTimeout  int
	WriteTimeout int
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// AIConfig AI配置
type AIConfig struct {
	Provider string // openai, ollama
	OpenAI   OpenAIConfig
	Ollama   OllamaConfig
}

// OpenAIConfig OpenAI配置
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int
}

// OllamaConfig Ollama配置
// Ollama 暴露 OpenAI 兼容接口，APIKey 仅作占位
type OllamaConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// AgentsConfig Agent 注册中心配置
type AgentsConfig struct {
	HealthCheckInterval int // 后台健康检查周期（秒）
	ProbeTimeout        int // 单次健康探测超时（秒）
	QueryTimeout        int // 远程 Agent 推理调用超时（秒）
	Candidates          []AgentCandidate
}

// AgentCandidate 启动时待发现的专用 Agent 候选
// Enabled 取代了原始实现中「Agent 目录是否存在」的判断
type AgentCandidate struct {
	ID           string
	Name         string
	BaseURL      string
	Description  string
	Capabilities []string
	AvatarURL    string
	SystemPrompt string
	Enabled      bool
}

var globalConfig *Config

// Load 加载配置
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 环境变量
	v.SetEnvPrefix("ONELINE_CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("config not loaded")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// GetAddr 获取服务器地址
func (c *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAddr 获取 Redis 地址
func (c *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultModel 按提供方返回默认模型名
func (c *AIConfig) DefaultModel() string {
	if c.Provider == "ollama" {
		return c.Ollama.Model
	}
	return c.OpenAI.Model
}

func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "oneline-chat")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.debug", true)

	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.readTimeout", 30)
	// 流式响应的写超时要盖过远程 Agent 的调用预算
	v.SetDefault("server.writeTimeout", 300)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "oneline_chat_app")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.maxLifetime", 300)

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// AI
	v.SetDefault("ai.provider", "ollama")
	v.SetDefault("ai.openai.baseUrl", "https://api.openai.com/v1")
	v.SetDefault("ai.openai.model", "gpt-3.5-turbo")
	v.SetDefault("ai.ollama.baseUrl", "http://localhost:11434/v1")
	v.SetDefault("ai.ollama.model", "deepseek-r1:8b")
	v.SetDefault("ai.ollama.apiKey", "ollama")

	// Agents
	v.SetDefault("agents.healthCheckInterval", 30)
	v.SetDefault("agents.probeTimeout", 5)
	v.SetDefault("agents.queryTimeout", 60)
	v.SetDefault("agents.candidates", defaultCandidates())
}

// defaultCandidates 内置的专用 Agent 候选列表
// 与 agents/ 目录下的独立微服务一一对应
func defaultCandidates() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"id":          "brd-agent",
			"name":        "BRD Specialist",
			"baseUrl":     "http://localhost:8001",
			"description": "Business Requirements Document specialist - helps create comprehensive business requirements",
			"capabilities": []string{
				"business-analysis", "requirements-gathering",
				"documentation", "stakeholder-analysis",
			},
			"avatarUrl": "📋",
			"enabled":   true,
		},
		{
			"id":          "prd-agent",
			"name":        "PRD Specialist",
			"baseUrl":     "http://localhost:8002",
			"description": "Product Requirements Document specialist - creates technical product specifications",
			"capabilities": []string{
				"product-specs", "technical-requirements",
				"api-documentation", "feature-planning",
			},
			"avatarUrl": "📝",
			"enabled":   true,
		},
	}
}
