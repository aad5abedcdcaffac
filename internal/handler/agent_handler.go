package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/oneline-chat/internal/service"
	"github.com/ashwinyue/oneline-chat/internal/service/registry"
	"github.com/ashwinyue/oneline-chat/internal/service/routing"
)

// AgentHandler Agent 处理器
type AgentHandler struct {
	svc *service.Services
}

// NewAgentHandler 创建 Agent 处理器
func NewAgentHandler(svc *service.Services) *AgentHandler {
	return &AgentHandler{svc: svc}
}

// ListAgents 列出 Agent
// include_offline=true 时包含离线 Agent，capability 过滤能力标签
func (h *AgentHandler) ListAgents(c *gin.Context) {
	if tag := c.Query("capability"); tag != "" {
		agents := h.svc.Agent.ListAgentsByCapability(c.Request.Context(), tag)
		Success(c, gin.H{
			"agents":       agents,
			"total":        len(agents),
			"online_count": len(agents),
		})
		return
	}

	includeOffline := c.Query("include_offline") == "true"
	agents := h.svc.Agent.ListAgents(c.Request.Context(), includeOffline)

	online := 0
	for _, a := range agents {
		if a.Status == registry.StatusOnline {
			online++
		}
	}

	Success(c, gin.H{
		"agents":       agents,
		"total":        len(agents),
		"online_count": online,
	})
}

// GetDefaultAgent 获取默认 Agent
func (h *AgentHandler) GetDefaultAgent(c *gin.Context) {
	agent, err := h.svc.Agent.GetDefaultAgent(c.Request.Context())
	if err != nil {
		ServiceUnavailable(c, err.Error())
		return
	}
	Success(c, agent)
}

// GetAgent 获取单个 Agent
func (h *AgentHandler) GetAgent(c *gin.Context) {
	agent, err := h.svc.Agent.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		NotFound(c, err.Error())
		return
	}
	Success(c, agent)
}

// GetAgentStatus 同步探测 Agent 状态
func (h *AgentHandler) GetAgentStatus(c *gin.Context) {
	id := c.Param("id")
	status := h.svc.Agent.CheckAgentStatus(c.Request.Context(), id)
	Success(c, gin.H{
		"agent_id": id,
		"status":   status,
	})
}

// SelectAgentRequest 会话选择 Agent 请求
type SelectAgentRequest struct {
	ChatID string `json:"chat_id"`
}

// SelectAgent 把会话绑定到指定 Agent
// chat_id 可放在请求体或查询参数
func (h *AgentHandler) SelectAgent(c *gin.Context) {
	var req SelectAgentRequest
	_ = c.ShouldBindJSON(&req)
	if req.ChatID == "" {
		req.ChatID = c.Query("chat_id")
	}
	if req.ChatID == "" {
		BadRequest(c, "chat_id is required")
		return
	}

	agent, err := h.svc.Agent.SelectAgent(c.Request.Context(), req.ChatID, getUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, routing.ErrAgentNotFound) {
			NotFound(c, err.Error())
			return
		}
		Error(c, err)
		return
	}

	Success(c, gin.H{
		"chat_id": req.ChatID,
		"agent":   agent,
	})
}

// GetActiveAgent 查询会话当前生效的 Agent
func (h *AgentHandler) GetActiveAgent(c *gin.Context) {
	active, err := h.svc.Agent.GetActiveAgent(c.Request.Context(), c.Param("chat_id"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, active)
}
