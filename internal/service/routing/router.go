// Package routing 负责把一次聊天请求解析到具体的 Agent：
// 显式指定 > 会话固定 > 默认 Agent
package routing

import (
	"context"
	"fmt"
	"log"

	"github.com/ashwinyue/oneline-chat/internal/service/registry"
)

// PinStore 会话与 Agent 的固定关系存储
type PinStore interface {
	// GetPin 返回会话当前固定的 Agent ID，没有则返回空串
	GetPin(ctx context.Context, chatID string) (string, error)
	// SetPin 固定会话到指定 Agent 并追加历史
	SetPin(ctx context.Context, chatID, userID, agentID string) error
}

// Router 请求路由器
type Router struct {
	registry *registry.Registry
	pins     PinStore
}

// NewRouter 创建路由器，pins 可为 nil（此时跳过会话固定层）
func NewRouter(reg *registry.Registry, pins PinStore) *Router {
	return &Router{registry: reg, pins: pins}
}

// Resolve 解析一次请求应使用的 Agent
//
// 显式指定的 agentID 不做回退：不存在返回 ErrAgentNotFound，
// 不在线返回 ErrAgentUnavailable。未指定时依次尝试会话固定的
// Agent（仅在线时生效）和默认 Agent，全部落空返回 ErrNoAgentsAvailable
func (r *Router) Resolve(ctx context.Context, chatID, agentID string) (*registry.AgentRecord, error) {
	if agentID != "" {
		rec, ok := r.registry.Get(agentID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
		}
		if rec.Status() != registry.StatusOnline {
			return nil, fmt.Errorf("%w: %s", ErrAgentUnavailable, agentID)
		}
		return rec, nil
	}

	if r.pins != nil && chatID != "" {
		pinned, err := r.pins.GetPin(ctx, chatID)
		if err != nil {
			// 固定关系查询失败按未固定处理，继续走默认链路
			log.Printf("Failed to load agent pin for chat %s: %v", chatID, err)
		} else if pinned != "" {
			if rec, ok := r.registry.Get(pinned); ok && rec.Status() == registry.StatusOnline {
				return rec, nil
			}
			log.Printf("Pinned agent %s for chat %s is not available, falling back to default", pinned, chatID)
		}
	}

	if rec, ok := r.registry.GetDefault(); ok {
		return rec, nil
	}
	return nil, ErrNoAgentsAvailable
}

// SelectAgent 把会话显式固定到某个 Agent
// 要求 Agent 已注册；不要求在线，离线 Agent 的固定会在解析时被跳过
func (r *Router) SelectAgent(ctx context.Context, chatID, userID, agentID string) (*registry.AgentRecord, error) {
	rec, ok := r.registry.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	if r.pins == nil {
		return rec, nil
	}
	if err := r.pins.SetPin(ctx, chatID, userID, agentID); err != nil {
		return nil, fmt.Errorf("failed to save agent selection: %w", err)
	}
	log.Printf("Chat %s switched to agent %s", chatID, agentID)
	return rec, nil
}
