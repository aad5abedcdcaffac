package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ashwinyue/oneline-chat/internal/model"
)

// SessionRepository 会话与 Agent 绑定关系的数据访问
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建会话仓库
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// GetByChatID 获取会话绑定
func (r *SessionRepository) GetByChatID(chatID string) (*model.ChatSession, error) {
	var sess model.ChatSession
	err := r.db.Where("chat_id = ?", chatID).First(&sess).Error
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// UpsertActiveAgent 更新会话当前 Agent，不存在则创建
// agent_history 按选中顺序追加，连续重复选中不追加
func (r *SessionRepository) UpsertActiveAgent(chatID, userID, agentID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var sess model.ChatSession
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("chat_id = ?", chatID).First(&sess).Error
		if err == gorm.ErrRecordNotFound {
			sess = model.ChatSession{
				ChatID:        chatID,
				UserID:        userID,
				ActiveAgentID: agentID,
				AgentHistory:  []string{agentID},
			}
			return tx.Create(&sess).Error
		}
		if err != nil {
			return err
		}

		sess.ActiveAgentID = agentID
		if n := len(sess.AgentHistory); n == 0 || sess.AgentHistory[n-1] != agentID {
			sess.AgentHistory = append(sess.AgentHistory, agentID)
		}
		if userID != "" {
			sess.UserID = userID
		}
		return tx.Save(&sess).Error
	})
}

// ListByUserID 列出用户的所有会话绑定
func (r *SessionRepository) ListByUserID(userID string, offset, limit int) ([]*model.ChatSession, error) {
	var sessions []*model.ChatSession
	err := r.db.Where("user_id = ?", userID).
		Order("updated_at DESC").
		Offset(offset).Limit(limit).
		Find(&sessions).Error
	return sessions, err
}
