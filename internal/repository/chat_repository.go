package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/ashwinyue/oneline-chat/internal/model"
)

// ChatRepository 聊天数据访问
type ChatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建聊天仓库
func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// CreateTurn 保存一轮对话
func (r *ChatRepository) CreateTurn(turn *model.ChatTurn) error {
	return r.db.Create(turn).Error
}

// GetTurnsByChatID 按时间升序获取会话的全部对话
func (r *ChatRepository) GetTurnsByChatID(chatID string) ([]*model.ChatTurn, error) {
	var turns []*model.ChatTurn
	err := r.db.Where("chat_id = ?", chatID).
		Order("msg_timestamp ASC").
		Find(&turns).Error
	return turns, err
}

// GetRecentTurns 获取会话最近的 N 轮对话，按时间升序返回
func (r *ChatRepository) GetRecentTurns(chatID string, limit int) ([]*model.ChatTurn, error) {
	var turns []*model.ChatTurn
	err := r.db.Where("chat_id = ?", chatID).
		Order("msg_timestamp DESC").
		Limit(limit).
		Find(&turns).Error
	if err != nil {
		return nil, err
	}
	// 反转为时间升序
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ListChatIDs 列出用户的会话 ID，按最近活跃排序
func (r *ChatRepository) ListChatIDs(userID string, offset, limit int) ([]string, error) {
	var chatIDs []string
	query := r.db.Model(&model.ChatTurn{}).
		Select("chat_id").
		Group("chat_id").
		Order("MAX(msg_timestamp) DESC").
		Offset(offset).Limit(limit)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	err := query.Pluck("chat_id", &chatIDs).Error
	return chatIDs, err
}

// DeleteChat 删除会话及其绑定关系
func (r *ChatRepository) DeleteChat(chatID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.ChatTurn{}, "chat_id = ?", chatID).Error; err != nil {
			return err
		}
		return tx.Delete(&model.ChatSession{}, "chat_id = ?", chatID).Error
	})
}

// CreateShare 创建分享记录
func (r *ChatRepository) CreateShare(share *model.SharedChat) error {
	return r.db.Create(share).Error
}

// GetShareByChatID 获取会话已有的分享记录
func (r *ChatRepository) GetShareByChatID(chatID string) (*model.SharedChat, error) {
	var share model.SharedChat
	err := r.db.Where("chat_id = ?", chatID).First(&share).Error
	if err != nil {
		return nil, err
	}
	return &share, nil
}

// GetShareByToken 按 token 获取未过期的分享记录
func (r *ChatRepository) GetShareByToken(token string) (*model.SharedChat, error) {
	var share model.SharedChat
	err := r.db.Where("share_token = ?", token).First(&share).Error
	if err != nil {
		return nil, err
	}
	if share.ExpiresAt != nil && share.ExpiresAt.Before(time.Now()) {
		return nil, gorm.ErrRecordNotFound
	}
	return &share, nil
}
