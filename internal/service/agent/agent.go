// Package agent 对外暴露注册中心的查询与会话选择能力
package agent

import (
	"context"
	"errors"
	"sort"

	"gorm.io/gorm"

	"github.com/ashwinyue/oneline-chat/internal/service/registry"
	"github.com/ashwinyue/oneline-chat/internal/service/routing"
	"github.com/ashwinyue/oneline-chat/internal/service/session"
)

// Service Agent 服务
type Service struct {
	registry *registry.Registry
	router   *routing.Router
	sessions *session.Manager
}

// NewService 创建 Agent 服务
func NewService(reg *registry.Registry, router *routing.Router, sessions *session.Manager) *Service {
	return &Service{registry: reg, router: router, sessions: sessions}
}

// ListAgents 列出 Agent 快照，按 ID 排序保证输出稳定
func (s *Service) ListAgents(ctx context.Context, includeOffline bool) []*registry.AgentView {
	records := s.registry.List(includeOffline)
	views := make([]*registry.AgentView, 0, len(records))
	for _, rec := range records {
		views = append(views, rec.View())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// ListAgentsByCapability 按能力标签列出在线 Agent
func (s *Service) ListAgentsByCapability(ctx context.Context, tag string) []*registry.AgentView {
	records := s.registry.ListByCapability(tag)
	views := make([]*registry.AgentView, 0, len(records))
	for _, rec := range records {
		views = append(views, rec.View())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// GetAgent 获取单个 Agent 快照
func (s *Service) GetAgent(ctx context.Context, id string) (*registry.AgentView, error) {
	rec, ok := s.registry.Get(id)
	if !ok {
		return nil, routing.ErrAgentNotFound
	}
	return rec.View(), nil
}

// GetDefaultAgent 获取默认 Agent 快照
func (s *Service) GetDefaultAgent(ctx context.Context) (*registry.AgentView, error) {
	rec, ok := s.registry.GetDefault()
	if !ok {
		return nil, routing.ErrNoAgentsAvailable
	}
	return rec.View(), nil
}

// CheckAgentStatus 同步探测 Agent 当前状态
func (s *Service) CheckAgentStatus(ctx context.Context, id string) registry.AgentStatus {
	return s.registry.CheckStatus(ctx, id)
}

// SelectAgent 把会话绑定到指定 Agent
func (s *Service) SelectAgent(ctx context.Context, chatID, userID, agentID string) (*registry.AgentView, error) {
	rec, err := s.router.SelectAgent(ctx, chatID, userID, agentID)
	if err != nil {
		return nil, err
	}
	return rec.View(), nil
}

// ActiveAgent 会话当前生效的 Agent 与切换历史
type ActiveAgent struct {
	ChatID       string              `json:"chat_id"`
	Agent        *registry.AgentView `json:"agent,omitempty"`
	AgentHistory []string            `json:"agent_history,omitempty"`
}

// GetActiveAgent 查询会话当前绑定的 Agent
// 没有绑定时回落到默认 Agent，Agent 字段可能为空
func (s *Service) GetActiveAgent(ctx context.Context, chatID string) (*ActiveAgent, error) {
	result := &ActiveAgent{ChatID: chatID}

	sess, err := s.sessions.GetSession(ctx, chatID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var agentID string
	if sess != nil {
		agentID = sess.ActiveAgentID
		result.AgentHistory = sess.AgentHistory
	}

	if agentID != "" {
		if rec, ok := s.registry.Get(agentID); ok {
			result.Agent = rec.View()
			return result, nil
		}
	}
	if rec, ok := s.registry.GetDefault(); ok {
		result.Agent = rec.View()
	}
	return result, nil
}
