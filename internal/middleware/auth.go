package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/oneline-chat/internal/model"
	"github.com/ashwinyue/oneline-chat/internal/service"
)

const (
	// 匿名会话 Cookie
	sessionCookieName = "oneline_chat_session"
	// 匿名会话有效期（30天）
	sessionCookieMaxAge = 30 * 24 * 3600
)

// newAnonymousID 生成 anon- 前缀的匿名用户标识
func newAnonymousID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "anon-0000000000000000"
	}
	return "anon-" + hex.EncodeToString(buf)
}

// AuthMiddleware 认证中间件
// 提供了有效 JWT 时使用该用户，否则落到 Cookie 维持的匿名会话
func AuthMiddleware(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 尝试从 Authorization 获取 Bearer Token
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
			token := strings.TrimPrefix(authHeader, "Bearer ")
			user, err := svc.Auth.ValidateToken(c.Request.Context(), token)
			if err == nil {
				c.Set("user", user)
				c.Set("user_id", user.ID)
				c.Next()
				return
			}
			// Token 无效，退回匿名会话
		}

		// 匿名会话：Cookie 里没有就新建一个
		userID, err := c.Cookie(sessionCookieName)
		if err != nil || !strings.HasPrefix(userID, "anon-") {
			userID = newAnonymousID()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(sessionCookieName, userID, sessionCookieMaxAge, "/", "", false, true)
		}

		c.Set("user_id", userID)
		c.Next()
	}
}

// RequireAuth 要求有效认证的中间件
// 必须提供有效的 JWT token，否则返回 401
func RequireAuth(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code": 401,
				"msg":  "Missing Authorization header",
			})
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code": 401,
				"msg":  "Invalid Authorization header format",
			})
			c.Abort()
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		user, err := svc.Auth.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code": 401,
				"msg":  "Invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set("user", user)
		c.Set("user_id", user.ID)
		c.Next()
	}
}

// GetCurrentUser 从上下文获取当前用户
func GetCurrentUser(c *gin.Context) (*model.User, bool) {
	user, exists := c.Get("user")
	if !exists {
		return nil, false
	}
	u, ok := user.(*model.User)
	return u, ok
}

// GetUserID 从上下文获取当前用户ID
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok
}

// IsAnonymous 判断是否匿名会话
func IsAnonymous(userID string) bool {
	return strings.HasPrefix(userID, "anon-")
}
