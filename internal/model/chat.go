package model

import (
	"time"

	"github.com/lib/pq"
)

// 聊天模式常量
const (
	ChatModeSingle   = "single"   // 单 Agent 对话
	ChatModeMultiple = "multiple" // 多 Agent 协作对话
)

// ChatTurn 一轮完整对话（问题 + 回答）
type ChatTurn struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	ChatID       string    `gorm:"size:64;not null;index" json:"chat_id"`
	MessageID    string    `gorm:"size:64;not null;uniqueIndex" json:"message_id"`
	Question     string    `gorm:"type:text;not null" json:"question"`
	Response     string    `gorm:"type:text;not null" json:"response"`
	MsgTimestamp time.Time `gorm:"autoCreateTime;index" json:"timestamp"`
	Mode         string    `gorm:"size:20;not null;default:single" json:"mode"`
	Agents       JSON      `gorm:"type:jsonb" json:"agents"` // Agent 配置与元数据
	UserID       string    `gorm:"size:64;index" json:"user_id,omitempty"`
}

// TableName 指定表名
func (ChatTurn) TableName() string {
	return "oneline_chat"
}

// ChatSession 会话与 Agent 的绑定关系
// active_agent_id 记录当前选中的 Agent，agent_history 按选中顺序追加
type ChatSession struct {
	ID            uint           `gorm:"primaryKey;autoIncrement" json:"-"`
	ChatID        string         `gorm:"size:64;not null;uniqueIndex" json:"chat_id"`
	UserID        string         `gorm:"size:64;index" json:"user_id,omitempty"`
	ActiveAgentID string         `gorm:"size:64" json:"active_agent_id"`
	AgentHistory  pq.StringArray `gorm:"type:text[]" json:"agent_history"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (ChatSession) TableName() string {
	return "chat_sessions"
}

// SharedChat 对话分享记录
type SharedChat struct {
	ID         uint       `gorm:"primaryKey;autoIncrement" json:"-"`
	ShareToken string     `gorm:"size:64;not null;uniqueIndex" json:"share_token"`
	ChatID     string     `gorm:"size:64;not null;index" json:"chat_id"`
	OwnerID    string     `gorm:"size:64;index" json:"owner_id,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (SharedChat) TableName() string {
	return "shared_chats"
}
