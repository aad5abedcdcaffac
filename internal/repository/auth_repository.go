package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/ashwinyue/oneline-chat/internal/model"
)

// AuthRepository 认证数据访问
type AuthRepository struct {
	db *gorm.DB
}

// NewAuthRepository 创建认证仓库
func NewAuthRepository(db *gorm.DB) *AuthRepository {
	return &AuthRepository{db: db}
}

// CreateUser 创建用户
func (r *AuthRepository) CreateUser(user *model.User) error {
	return r.db.Create(user).Error
}

// GetUserByID 获取用户
func (r *AuthRepository) GetUserByID(id string) (*model.User, error) {
	var user model.User
	err := r.db.Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail 获取用户
func (r *AuthRepository) GetUserByEmail(email string) (*model.User, error) {
	var user model.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername 获取用户
func (r *AuthRepository) GetUserByUsername(username string) (*model.User, error) {
	var user model.User
	err := r.db.Where("username = ?", username).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser 更新用户
func (r *AuthRepository) UpdateUser(user *model.User) error {
	return r.db.Save(user).Error
}

// UpdateLastLogin 更新最近登录时间
func (r *AuthRepository) UpdateLastLogin(userID string, at time.Time) error {
	return r.db.Model(&model.User{}).
		Where("id = ?", userID).
		Update("last_login", at).Error
}

// CreateToken 保存令牌
func (r *AuthRepository) CreateToken(token *model.AuthToken) error {
	return r.db.Create(token).Error
}

// GetToken 获取未撤销的令牌
func (r *AuthRepository) GetToken(token, tokenType string) (*model.AuthToken, error) {
	var t model.AuthToken
	err := r.db.Where("token = ? AND token_type = ? AND is_revoked = ?", token, tokenType, false).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RevokeToken 撤销令牌
func (r *AuthRepository) RevokeToken(token string) error {
	return r.db.Model(&model.AuthToken{}).
		Where("token = ?", token).
		Update("is_revoked", true).Error
}

// RevokeUserTokens 撤销用户的全部令牌
func (r *AuthRepository) RevokeUserTokens(userID string) error {
	return r.db.Model(&model.AuthToken{}).
		Where("user_id = ? AND is_revoked = ?", userID, false).
		Update("is_revoked", true).Error
}

// DeleteExpiredTokens 清理过期令牌
func (r *AuthRepository) DeleteExpiredTokens() error {
	return r.db.Delete(&model.AuthToken{}, "expires_at < ?", time.Now()).Error
}
