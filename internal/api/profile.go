package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/amsuru18/FolkTrade/internal/api/middleware"
	"github.com/amsuru18/FolkTrade/internal/otp"
	"github.com/amsuru18/FolkTrade/internal/store"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type updateProfileRequest struct {
	FullName       string `json:"fullName"`
	Email          string `json:"email"`
	WhatsappNumber string `json:"whatsappNumber"`
	Hostel         string `json:"hostel"`
	DialNumber     string `json:"dialNumber"`
	Password       string `json:"password"`
}

type changeEmailRequest struct {
	NewEmail string `json:"newEmail"`
}

// handleGetProfile 返回当前用户资料。
//
// GET /api/user/profile
func (s *Server) handleGetProfile(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Not authorized"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// handleUpdateProfile 更新资料字段，可选改密。
//
// PUT /api/user/profile
//
// 直接改邮箱被拒绝，换绑必须走 /api/user/email 的 OTP 流程。
func (s *Server) handleUpdateProfile(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Not authorized"})
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}

	if req.Email != "" && strings.TrimSpace(strings.ToLower(req.Email)) != user.Email {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Email change requires OTP verification"})
		return
	}

	if req.Password != "" {
		if len(req.Password) < 6 {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Password must be at least 6 characters"})
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
			return
		}
		user.Password = string(hash)
	}

	if req.FullName != "" {
		user.FullName = strings.TrimSpace(req.FullName)
	}
	if req.WhatsappNumber != "" {
		user.WhatsappNumber = req.WhatsappNumber
	}
	if req.Hostel != "" {
		user.Hostel = req.Hostel
	}
	if req.DialNumber != "" {
		user.DialNumber = req.DialNumber
	}

	if err := s.users.UpdateUser(c.Request.Context(), user); err != nil {
		s.logger.Error("update profile failed", slog.String("userId", user.ID.Hex()), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Profile updated successfully"})
}

// handleChangeEmail 启动换绑邮箱的 OTP 流程。
//
// POST /api/user/email
//
// 新邮箱立即写入并回到未验证状态，验证码发往新邮箱，
// 与注册走同一个 OTP 服务。
func (s *Server) handleChangeEmail(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Not authorized"})
		return
	}

	var req changeEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "New email is required"})
		return
	}
	newEmail := strings.TrimSpace(strings.ToLower(req.NewEmail))
	if newEmail == "" || newEmail == user.Email {
		c.JSON(http.StatusBadRequest, gin.H{"message": "New email is required"})
		return
	}

	if _, err := s.users.FindUserByEmail(c.Request.Context(), newEmail); err == nil {
		c.JSON(http.StatusConflict, gin.H{"message": "User already exists"})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
		return
	}

	user.Email = newEmail
	user.IsEmailVerified = false
	if err := s.otp.Issue(c.Request.Context(), user); err != nil {
		if errors.Is(err, otp.ErrDispatchFailed) {
			// 新邮箱与新码已落库，不回退，只向调用方报告
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to send OTP email"})
			return
		}
		s.logger.Error("change email failed", slog.String("userId", user.ID.Hex()), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
		return
	}

	s.logger.Info("email change requested", slog.String("userId", user.ID.Hex()))
	c.JSON(http.StatusOK, gin.H{"message": "OTP sent to new email. Please verify."})
}
