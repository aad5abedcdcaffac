// Package session 管理会话与 Agent 的绑定关系，
// 数据落在 PostgreSQL，Redis 作为读穿缓存
package session

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ashwinyue/oneline-chat/internal/model"
	"github.com/ashwinyue/oneline-chat/internal/repository"
)

const (
	// 绑定关系在 Redis 中的过期时间（24小时）
	pinTTL = 24 * time.Hour
	// Redis key 前缀
	pinKeyPrefix = "agent_pin:"
)

// Manager 会话绑定管理器
// redis 可为 nil，此时所有读写直达数据库
type Manager struct {
	repo  *repository.SessionRepository
	redis *redis.Client
}

// NewManager 创建会话绑定管理器
func NewManager(repo *repository.SessionRepository, redisClient *redis.Client) *Manager {
	return &Manager{repo: repo, redis: redisClient}
}

// GetPin 返回会话当前绑定的 Agent ID，没有绑定返回空串
func (m *Manager) GetPin(ctx context.Context, chatID string) (string, error) {
	if m.redis != nil {
		key := pinKeyPrefix + chatID
		agentID, err := m.redis.Get(ctx, key).Result()
		if err == nil {
			return agentID, nil
		}
		if err != redis.Nil {
			log.Printf("Warning: failed to read agent pin from redis: %v", err)
		}
	}

	sess, err := m.repo.GetByChatID(chatID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	m.cache(ctx, chatID, sess.ActiveAgentID)
	return sess.ActiveAgentID, nil
}

// SetPin 绑定会话到指定 Agent 并刷新缓存
func (m *Manager) SetPin(ctx context.Context, chatID, userID, agentID string) error {
	if err := m.repo.UpsertActiveAgent(chatID, userID, agentID); err != nil {
		return err
	}
	m.cache(ctx, chatID, agentID)
	return nil
}

// GetSession 获取完整的绑定记录，包含切换历史
func (m *Manager) GetSession(ctx context.Context, chatID string) (*model.ChatSession, error) {
	return m.repo.GetByChatID(chatID)
}

// cache 写缓存，失败只记录日志不影响主流程
func (m *Manager) cache(ctx context.Context, chatID, agentID string) {
	if m.redis == nil {
		return
	}
	key := pinKeyPrefix + chatID
	if err := m.redis.Set(ctx, key, agentID, pinTTL).Err(); err != nil {
		log.Printf("Warning: failed to save agent pin to redis: %v", err)
	}
}
