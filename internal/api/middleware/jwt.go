package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/amsuru18/FolkTrade/internal/model"
	"github.com/amsuru18/FolkTrade/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// ContextUserIDKey 上下文中的用户 id（ObjectID hex）。
	ContextUserIDKey = "userID"
	// ContextUserKey 上下文中的用户记录。
	ContextUserKey = "user"
)

// UserFinder 按令牌 subject 加载用户。
type UserFinder interface {
	FindUserByID(ctx context.Context, id string) (*model.User, error)
}

// AuthMiddleware 校验 Bearer JWT 并把用户写入上下文。
//
// 每个请求都会回读一次用户记录：被删除用户的存量令牌在下一次
// 使用时立即失效，无需维护吊销列表。
func AuthMiddleware(jwtSecret string, users UserFinder) gin.HandlerFunc {
	secret := []byte(jwtSecret)
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "No token, authorization denied"})
			c.Abort()
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid authorization header"})
			c.Abort()
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || !token.Valid {
			msg := "Not authorized, token failed"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Token expired"
			}
			c.JSON(http.StatusUnauthorized, gin.H{"message": msg})
			c.Abort()
			return
		}
		if claims.Subject == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "Not authorized, token failed"})
			c.Abort()
			return
		}

		user, err := users.FindUserByID(c.Request.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusUnauthorized, gin.H{"message": "User not found"})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
			}
			c.Abort()
			return
		}

		c.Set(ContextUserIDKey, claims.Subject)
		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// CurrentUser 从上下文取出已认证用户。
func CurrentUser(c *gin.Context) (*model.User, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok
}
