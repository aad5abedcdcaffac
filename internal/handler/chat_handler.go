package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ashwinyue/oneline-chat/internal/service"
	"github.com/ashwinyue/oneline-chat/internal/service/chat"
	"github.com/ashwinyue/oneline-chat/internal/service/routing"
)

// ChatHandler 聊天处理器
type ChatHandler struct {
	svc *service.Services
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(svc *service.Services) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// routingError 把路由错误映射到 HTTP 响应
func routingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, routing.ErrAgentNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, routing.ErrAgentUnavailable), errors.Is(err, routing.ErrNoAgentsAvailable):
		ServiceUnavailable(c, err.Error())
	default:
		Error(c, err)
	}
}

// Completions OpenAI 兼容的聊天补全入口
func (h *ChatHandler) Completions(c *gin.Context) {
	var req chat.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid parameters: "+err.Error())
		return
	}
	req.UserID = getUserID(c)

	if !req.Stream {
		resp, err := h.svc.Chat.Completion(c.Request.Context(), &req)
		if err != nil {
			routingError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	h.streamCompletion(c, &req)
}

// StreamRequest 简化的流式对话请求
type StreamRequest struct {
	Query       string   `json:"query" binding:"required"`
	ChatID      string   `json:"chat_id"`
	AgentID     string   `json:"agent_id"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
	SaveToDB    *bool    `json:"save_to_db"`
}

// Stream 简化入口：只传问题和会话 ID，历史从存档加载
func (h *ChatHandler) Stream(c *gin.Context) {
	var req StreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid parameters: "+err.Error())
		return
	}

	var messages []chat.Message
	if req.ChatID != "" {
		history, err := h.svc.Chat.HistoryMessages(c.Request.Context(), req.ChatID, 0)
		if err != nil {
			Error(c, err)
			return
		}
		messages = history
	}
	messages = append(messages, chat.Message{Role: "user", Content: req.Query})

	h.streamCompletion(c, &chat.CompletionRequest{
		Messages:    messages,
		Stream:      true,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		ChatID:      req.ChatID,
		AgentID:     req.AgentID,
		SaveToDB:    req.SaveToDB,
		UserID:      getUserID(c),
	})
}

// streamCompletion 执行流式补全并以 SSE 帧下发
func (h *ChatHandler) streamCompletion(c *gin.Context, req *chat.CompletionRequest) {
	result, err := h.svc.Chat.StreamCompletion(c.Request.Context(), req)
	if err != nil {
		routingError(c, err)
		return
	}

	// 设置 SSE 响应头
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	if result.Agent != nil {
		c.Writer.Header().Set("X-Agent-ID", result.Agent.ID)
	}

	for ev := range result.Events {
		if c.Request.Context().Err() != nil {
			// 客户端已断开，继续消费事件让生产方正常退出
			continue
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", ev.Data)
		c.Writer.Flush()
	}
}

// GetHistory 获取会话存档
func (h *ChatHandler) GetHistory(c *gin.Context) {
	chatID := c.Param("chat_id")

	turns, err := h.svc.Chat.GetHistory(c.Request.Context(), chatID, getUserID(c))
	if err != nil {
		Error(c, err)
		return
	}

	Success(c, gin.H{
		"chat_id":  chatID,
		"messages": turns,
		"total":    len(turns),
	})
}

// ListChats 列出当前用户的会话
func (h *ChatHandler) ListChats(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}

	chatIDs, err := h.svc.Chat.ListChats(c.Request.Context(), getUserID(c), (page-1)*size, size)
	if err != nil {
		Error(c, err)
		return
	}

	Success(c, gin.H{
		"chats": chatIDs,
		"page":  page,
		"size":  size,
	})
}

// DeleteChat 删除会话
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	if err := h.svc.Chat.DeleteChat(c.Request.Context(), c.Param("chat_id")); err != nil {
		Error(c, err)
		return
	}
	NoContent(c)
}

// ShareChat 生成会话分享链接
func (h *ChatHandler) ShareChat(c *gin.Context) {
	chatID := c.Param("chat_id")

	var req struct {
		ExpiresInHours int `json:"expires_in_hours"`
	}
	// 请求体可选
	_ = c.ShouldBindJSON(&req)

	share, err := h.svc.Chat.ShareChat(c.Request.Context(), chatID, getUserID(c),
		time.Duration(req.ExpiresInHours)*time.Hour)
	if err != nil {
		Error(c, err)
		return
	}

	Created(c, share)
}

// GetSharedChat 按分享 token 查看会话
func (h *ChatHandler) GetSharedChat(c *gin.Context) {
	share, turns, err := h.svc.Chat.GetSharedChat(c.Request.Context(), c.Param("token"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "shared chat not found or expired")
			return
		}
		Error(c, err)
		return
	}

	Success(c, gin.H{
		"chat_id":  share.ChatID,
		"messages": turns,
		"total":    len(turns),
	})
}

// ListModels OpenAI 兼容的模型列表，每个在线 Agent 映射为一个模型
func (h *ChatHandler) ListModels(c *gin.Context) {
	agents := h.svc.Agent.ListAgents(c.Request.Context(), false)

	models := make([]gin.H, 0, len(agents))
	for _, a := range agents {
		models = append(models, gin.H{
			"id":       a.ID,
			"object":   "model",
			"created":  time.Now().Unix(),
			"owned_by": string(a.Provider),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   models,
	})
}
