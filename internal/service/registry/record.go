package registry

import (
	"sync"
	"time"
)

// AgentStatus Agent 运行状态
type AgentStatus string

const (
	StatusOnline  AgentStatus = "online"
	StatusOffline AgentStatus = "offline"
	StatusBusy    AgentStatus = "busy"
	StatusError   AgentStatus = "error"
)

// AgentType Agent 类型
type AgentType string

const (
	TypeSystem      AgentType = "system"      // 进程内，通过共享模型客户端调用
	TypeCustom      AgentType = "custom"      // 用户自定义远程服务
	TypeSpecialized AgentType = "specialized" // 内置专用远程服务
)

// AgentProvider 模型提供方
type AgentProvider string

const (
	ProviderOpenAI    AgentProvider = "openai"
	ProviderAnthropic AgentProvider = "anthropic"
	ProviderOllama    AgentProvider = "ollama"
	ProviderGemini    AgentProvider = "gemini"
	ProviderCustom    AgentProvider = "custom"
)

// AgentRecord 注册中心中的一个 Agent
// 配置字段在注册后视为只读；实时状态由 mu 保护，
// 仅允许健康检查子系统和调用结果回写修改
type AgentRecord struct {
	ID           string
	Name         string
	Type         AgentType
	Provider     AgentProvider
	Model        string
	Description  string
	Capabilities []string
	BaseURL      string
	APIKey       string
	SystemPrompt string
	Parameters   map[string]interface{}
	AvatarURL    string
	MaxTokens    int
	Temperature  float64

	mu              sync.Mutex
	status          AgentStatus
	lastHealthCheck time.Time
	responseTimeMs  int64
}

// Status 当前状态
func (a *AgentRecord) Status() AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// setStatus 更新状态并记录检查时间
func (a *AgentRecord) setStatus(s AgentStatus) {
	a.mu.Lock()
	a.status = s
	a.lastHealthCheck = time.Now()
	a.mu.Unlock()
}

// setLatency 记录最近一次成功调用的耗时
func (a *AgentRecord) setLatency(d time.Duration) {
	a.mu.Lock()
	a.responseTimeMs = d.Milliseconds()
	a.mu.Unlock()
}

// HasCapability 检查能力标签
func (a *AgentRecord) HasCapability(tag string) bool {
	for _, c := range a.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// AgentView Agent 的只读快照，用于 API 响应
type AgentView struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Type            AgentType              `json:"type"`
	Provider        AgentProvider          `json:"provider"`
	Model           string                 `json:"model"`
	Description     string                 `json:"description"`
	Capabilities    []string               `json:"capabilities"`
	BaseURL         string                 `json:"base_url,omitempty"`
	SystemPrompt    string                 `json:"system_prompt,omitempty"`
	Parameters      map[string]interface{} `json:"parameters,omitempty"`
	AvatarURL       string                 `json:"avatar_url,omitempty"`
	MaxTokens       int                    `json:"max_tokens"`
	Temperature     float64                `json:"temperature"`
	Status          AgentStatus            `json:"status"`
	LastHealthCheck *time.Time             `json:"last_health_check,omitempty"`
	ResponseTimeMs  int64                  `json:"response_time_ms,omitempty"`
}

// View 生成快照
func (a *AgentRecord) View() *AgentView {
	a.mu.Lock()
	status := a.status
	latency := a.responseTimeMs
	var checked *time.Time
	if !a.lastHealthCheck.IsZero() {
		t := a.lastHealthCheck
		checked = &t
	}
	a.mu.Unlock()

	return &AgentView{
		ID:              a.ID,
		Name:            a.Name,
		Type:            a.Type,
		Provider:        a.Provider,
		Model:           a.Model,
		Description:     a.Description,
		Capabilities:    a.Capabilities,
		BaseURL:         a.BaseURL,
		SystemPrompt:    a.SystemPrompt,
		Parameters:      a.Parameters,
		AvatarURL:       a.AvatarURL,
		MaxTokens:       a.MaxTokens,
		Temperature:     a.Temperature,
		Status:          status,
		LastHealthCheck: checked,
		ResponseTimeMs:  latency,
	}
}
