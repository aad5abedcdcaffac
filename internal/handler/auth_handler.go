package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/oneline-chat/internal/service"
	"github.com/ashwinyue/oneline-chat/internal/service/auth"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	svc *service.Services
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(svc *service.Services) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// Register 用户注册
func (h *AuthHandler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid parameters: "+err.Error())
		return
	}

	resp, err := h.svc.Auth.Register(c.Request.Context(), &req)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	Created(c, resp)
}

// Login 用户登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid parameters: "+err.Error())
		return
	}

	resp, err := h.svc.Auth.Login(c.Request.Context(), &req)
	if err != nil {
		Error(c, err)
		return
	}

	if !resp.Success {
		Unauthorized(c, resp.Message)
		return
	}

	Success(c, resp)
}

// Logout 退出登录，撤销当前用户全部令牌
func (h *AuthHandler) Logout(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		Unauthorized(c, "not logged in")
		return
	}

	if err := h.svc.Auth.Logout(c.Request.Context(), userID); err != nil {
		Error(c, err)
		return
	}
	Success(c, gin.H{"message": "Logged out"})
}

// RefreshRequest 刷新令牌请求
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh 刷新令牌
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid parameters: "+err.Error())
		return
	}

	accessToken, refreshToken, err := h.svc.Auth.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		Unauthorized(c, err.Error())
		return
	}

	Success(c, gin.H{
		"token":         accessToken,
		"refresh_token": refreshToken,
	})
}

// Me 获取当前用户信息
func (h *AuthHandler) Me(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" || strings.HasPrefix(userID, "anon-") {
		Unauthorized(c, "not logged in")
		return
	}

	user, err := h.svc.Auth.GetUser(c.Request.Context(), userID)
	if err != nil {
		NotFound(c, "user not found")
		return
	}
	Success(c, user)
}

// ChangePassword 修改密码
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" || strings.HasPrefix(userID, "anon-") {
		Unauthorized(c, "not logged in")
		return
	}

	var req auth.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid parameters: "+err.Error())
		return
	}

	if err := h.svc.Auth.ChangePassword(c.Request.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		BadRequest(c, err.Error())
		return
	}
	Success(c, gin.H{"message": "Password changed"})
}
