package handler

import (
	"github.com/ashwinyue/oneline-chat/internal/service"
)

// Handlers 处理器集合
type Handlers struct {
	Chat  *ChatHandler
	Agent *AgentHandler
	Auth  *AuthHandler
}

// NewHandlers 创建所有处理器
func NewHandlers(svc *service.Services) *Handlers {
	return &Handlers{
		Chat:  NewChatHandler(svc),
		Agent: NewAgentHandler(svc),
		Auth:  NewAuthHandler(svc),
	}
}
