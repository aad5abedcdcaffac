// Package registry 维护所有可用 AI Agent 的内存注册表，
// 负责启动时发现、周期健康检查与选择查询
package registry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ashwinyue/oneline-chat/internal/config"
)

// 常用模型名到系统 Agent ID 的映射
// 配置的默认模型先查这张表，再回退到任意在线 Agent
var modelToAgent = map[string]string{
	"gpt-4":                      "gpt-4",
	"gpt-4o":                     "gpt-4o",
	"gpt-3.5-turbo":              "gpt-3.5-turbo",
	"claude-3-5-sonnet-20241022": "claude-3-5-sonnet",
	"llama3.1:latest":            "llama3",
}

// Registry Agent 注册中心
// map 的结构性操作由 mu 保护，单条记录的实时状态由记录自身的锁保护
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*AgentRecord

	cfg   *config.Config
	probe Prober

	initialized bool
	interval    time.Duration
	cancel      context.CancelFunc
	done        chan struct{}
}

// New 创建注册中心
func New(cfg *config.Config, probe Prober) *Registry {
	interval := time.Duration(cfg.Agents.HealthCheckInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Registry{
		agents:   make(map[string]*AgentRecord),
		cfg:      cfg,
		probe:    probe,
		interval: interval,
	}
}

// Initialize 注册系统 Agent、发现专用 Agent 并启动健康检查循环
// 幂等：重复调用是空操作。空注册表不是错误，调用方需自行处理无 Agent 可用
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		return nil
	}
	r.initialized = true
	r.mu.Unlock()

	r.registerSystemAgents()
	r.discoverCandidates(ctx)

	// 循环生命周期绑定注册中心自身，由 Cleanup 终止
	loopCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()
	go r.healthCheckLoop(loopCtx)

	log.Printf("Agent registry initialized with %d agents", r.Size())
	return nil
}

// registerSystemAgents 按配置的提供方注册进程内系统 Agent
// 凭证缺失的提供方直接跳过
func (r *Registry) registerSystemAgents() {
	ai := r.cfg.AI

	switch ai.Provider {
	case "openai":
		if ai.OpenAI.APIKey == "" {
			log.Printf("OpenAI API key not configured, skipping system agent")
			return
		}
		rec := &AgentRecord{
			ID:           ai.OpenAI.Model,
			Name:         ai.OpenAI.Model,
			Type:         TypeSystem,
			Provider:     ProviderOpenAI,
			Model:        ai.OpenAI.Model,
			Description:  "OpenAI chat completion model",
			Capabilities: []string{"chat", "general"},
			APIKey:       ai.OpenAI.APIKey,
			MaxTokens:    4096,
			Temperature:  0.7,
		}
		rec.setStatus(StatusOnline)
		r.Register(rec)
	case "ollama":
		rec := &AgentRecord{
			ID:           ai.Ollama.Model,
			Name:         ai.Ollama.Model,
			Type:         TypeSystem,
			Provider:     ProviderOllama,
			Model:        ai.Ollama.Model,
			Description:  "Local Ollama chat completion model",
			Capabilities: []string{"chat", "general"},
			BaseURL:      ai.Ollama.BaseURL,
			APIKey:       ai.Ollama.APIKey,
			MaxTokens:    4096,
			Temperature:  0.7,
		}
		rec.setStatus(StatusOnline)
		r.Register(rec)
	default:
		log.Printf("Unknown AI provider %q, no system agents registered", ai.Provider)
	}
}

// discoverCandidates 逐个探测配置中的专用 Agent 候选
// 单个候选失败只记录日志，不影响整体初始化
func (r *Registry) discoverCandidates(ctx context.Context) {
	for _, cand := range r.cfg.Agents.Candidates {
		if !cand.Enabled {
			log.Printf("Agent candidate %s disabled, skipping", cand.ID)
			continue
		}

		latency, err := r.probe.Check(ctx, cand.BaseURL)
		if err != nil {
			log.Printf("Agent %s not running at %s: %v", cand.Name, cand.BaseURL, err)
			continue
		}

		rec := &AgentRecord{
			ID:           cand.ID,
			Name:         cand.Name,
			Type:         TypeSpecialized,
			Provider:     ProviderCustom,
			Model:        cand.ID,
			Description:  cand.Description,
			Capabilities: cand.Capabilities,
			BaseURL:      cand.BaseURL,
			AvatarURL:    cand.AvatarURL,
			SystemPrompt: cand.SystemPrompt,
			MaxTokens:    4096,
			Temperature:  0.7,
		}
		rec.setStatus(StatusOnline)
		rec.setLatency(latency)
		r.Register(rec)
		log.Printf("Registered agent: %s at %s", cand.Name, cand.BaseURL)
	}

	if r.Size() == 0 {
		log.Printf("No agents discovered, registry is empty")
	}
}

// Register 注册或替换 Agent，ID 冲突时替换配置并告警
func (r *Registry) Register(rec *AgentRecord) {
	r.mu.Lock()
	if _, exists := r.agents[rec.ID]; exists {
		log.Printf("Agent %s already registered, updating configuration", rec.ID)
	}
	r.agents[rec.ID] = rec
	r.mu.Unlock()
	log.Printf("Registered agent: %s (%s)", rec.Name, rec.ID)
}

// Unregister 注销 Agent，返回其是否存在
// 这是从注册表移除 Agent 的唯一途径，健康检查失败只会置为 offline
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[id]; !exists {
		return false
	}
	delete(r.agents, id)
	log.Printf("Unregistered agent: %s", id)
	return true
}

// Get 按 ID 查询
func (r *Registry) Get(id string) (*AgentRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.agents[id]
	return rec, ok
}

// List 列出所有 Agent，includeOffline=false 时过滤掉 offline
func (r *Registry) List(includeOffline bool) []*AgentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*AgentRecord, 0, len(r.agents))
	for _, rec := range r.agents {
		if !includeOffline && rec.Status() == StatusOffline {
			continue
		}
		result = append(result, rec)
	}
	return result
}

// ListByCapability 列出具备指定能力且在线的 Agent
func (r *Registry) ListByCapability(tag string) []*AgentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*AgentRecord
	for _, rec := range r.agents {
		if rec.HasCapability(tag) && rec.Status() == StatusOnline {
			result = append(result, rec)
		}
	}
	return result
}

// GetDefault 解析默认 Agent：
// 先按配置的默认模型名查映射表，再回退到任意在线 Agent
func (r *Registry) GetDefault() (*AgentRecord, bool) {
	defaultModel := r.cfg.AI.DefaultModel()

	agentID, ok := modelToAgent[defaultModel]
	if !ok {
		agentID = defaultModel
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if rec, ok := r.agents[agentID]; ok && rec.Status() == StatusOnline {
		return rec, true
	}

	for _, rec := range r.agents {
		if rec.Status() == StatusOnline {
			return rec, true
		}
	}
	return nil, false
}

// CheckStatus 同步探测单个 Agent 并更新状态
// 未注册的 ID 返回 offline
func (r *Registry) CheckStatus(ctx context.Context, id string) AgentStatus {
	rec, ok := r.Get(id)
	if !ok {
		return StatusOffline
	}

	switch rec.Type {
	case TypeSystem:
		// 系统 Agent 只校验凭证，不发网络请求
		if rec.Provider == ProviderOpenAI && rec.APIKey == "" {
			rec.setStatus(StatusOffline)
		} else {
			rec.setStatus(StatusOnline)
		}
	default:
		if rec.BaseURL == "" {
			rec.setStatus(StatusOffline)
			break
		}
		latency, err := r.probe.Check(ctx, rec.BaseURL)
		if err != nil {
			rec.setStatus(StatusOffline)
			break
		}
		rec.setStatus(StatusOnline)
		rec.setLatency(latency)
	}

	return rec.Status()
}

// ObserveCallFailure 一次调用失败后的状态回写
func (r *Registry) ObserveCallFailure(id string) {
	if rec, ok := r.Get(id); ok {
		rec.setStatus(StatusError)
	}
}

// ObserveCallSuccess 一次调用成功后的状态回写
func (r *Registry) ObserveCallSuccess(id string, latency time.Duration) {
	if rec, ok := r.Get(id); ok {
		rec.setStatus(StatusOnline)
		rec.setLatency(latency)
	}
}

// Size 当前注册数量
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Initialized 是否已初始化
func (r *Registry) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// LoopRunning 健康检查循环是否在运行
func (r *Registry) LoopRunning() bool {
	r.mu.RLock()
	done := r.done
	r.mu.RUnlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// healthCheckLoop 周期重探所有已注册 Agent，直到被 Cleanup 取消
func (r *Registry) healthCheckLoop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkAll(ctx)
		}
	}
}

// checkAll 顺序探测一轮；单个 Agent 的异常不影响本轮其余探测
func (r *Registry) checkAll(ctx context.Context) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.checkOne(ctx, id)
	}
}

func (r *Registry) checkOne(ctx context.Context, id string) {
	defer func() {
		if err := recover(); err != nil {
			log.Printf("Error in health check for agent %s: %v", id, err)
		}
	}()
	r.CheckStatus(ctx, id)
}

// Cleanup 终止健康检查循环并等待其退出，幂等
func (r *Registry) Cleanup() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Printf("Agent registry cleaned up")
}
