package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/amsuru18/FolkTrade/internal/model"
	"github.com/amsuru18/FolkTrade/internal/otp"
	"github.com/amsuru18/FolkTrade/internal/pkg/metrics"
	"github.com/amsuru18/FolkTrade/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// tokenTTL 会话令牌有效期。
const tokenTTL = 7 * 24 * time.Hour

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// UserStore 是认证接口所需的存储面。
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	FindUserByID(ctx context.Context, id string) (*model.User, error)
	UpdateUser(ctx context.Context, user *model.User) error
}

// Handler 提供注册、验证码、登录接口。
type Handler struct {
	users     UserStore
	otp       *otp.Service
	jwtSecret []byte
	logger    *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(users UserStore, otpService *otp.Service, jwtSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		users:     users,
		otp:       otpService,
		jwtSecret: []byte(jwtSecret),
		logger:    logger,
	}
}

type signupRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyOTPRequest struct {
	UserID string `json:"userId"`
	OTP    string `json:"otp"`
}

// Signup 创建新用户并签发首个验证码。
//
// POST /api/auth/signup
func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Please fill all fields"})
		return
	}
	if req.FullName == "" || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Please fill all fields"})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if !emailRegex.MatchString(email) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid email format"})
		return
	}
	if len(req.Password) < 6 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Password must be at least 6 characters"})
		return
	}

	if _, err := h.users.FindUserByEmail(c.Request.Context(), email); err == nil {
		c.JSON(http.StatusConflict, gin.H{"message": "User already exists"})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
		return
	}

	user := model.User{
		FullName:        strings.TrimSpace(req.FullName),
		Email:           email,
		Password:        string(hash),
		IsEmailVerified: false,
	}
	// 挑战随账号一次写入：插入成功即保证有可验证的码，
	// 不会留下无挑战、无法登录也无法重发的死账号
	if err := h.otp.Prepare(&user); err != nil {
		h.logger.Error("prepare otp failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
		return
	}
	if err := h.users.CreateUser(c.Request.Context(), &user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			c.JSON(http.StatusConflict, gin.H{"message": "User already exists"})
			return
		}
		h.logger.Error("create user failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
		return
	}

	// 邮件失败不回滚注册，发信情况 Dispatch 里已记录，用户可走重发
	_ = h.otp.Dispatch(&user)

	metrics.SignupsTotal.Inc()
	h.logger.Info("user registered", slog.String("email", email))
	c.JSON(http.StatusCreated, gin.H{
		"message": "User created. Please verify OTP sent to email.",
		"userId":  user.ID.Hex(),
	})
}

// VerifyOTP 校验验证码并标记邮箱已验证。
//
// POST /api/auth/verify-otp
func (h *Handler) VerifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "UserId and OTP are required"})
		return
	}
	if req.UserID == "" || req.OTP == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "UserId and OTP are required"})
		return
	}

	user, err := h.users.FindUserByID(c.Request.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
		return
	}

	if err := h.otp.Verify(c.Request.Context(), user, strings.TrimSpace(req.OTP)); err != nil {
		switch {
		case errors.Is(err, otp.ErrNoChallenge):
			c.JSON(http.StatusBadRequest, gin.H{"message": "No OTP requested"})
		case errors.Is(err, otp.ErrExpired):
			c.JSON(http.StatusBadRequest, gin.H{"message": "OTP expired"})
		case errors.Is(err, otp.ErrMismatch):
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid OTP"})
		default:
			h.logger.Error("verify otp failed", slog.String("userId", req.UserID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
		}
		return
	}

	h.logger.Info("email verified", slog.String("email", user.Email))
	c.JSON(http.StatusOK, gin.H{
		"message": "OTP verified successfully",
		"user":    user.Summary(),
	})
}

// ResendOTP 为已登录用户重新签发验证码（60 秒频控）。
//
// POST /api/auth/resend-otp
func (h *Handler) ResendOTP(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Not authorized"})
		return
	}

	if remain := h.otp.ResendRemaining(user); remain > 0 {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"message":     "Too many requests",
			"retry_after": int(remain.Seconds()),
		})
		return
	}

	// 重发会重置验证状态，新码覆盖旧码
	user.IsEmailVerified = false
	if err := h.otp.Issue(c.Request.Context(), user); err != nil {
		if errors.Is(err, otp.ErrDispatchFailed) {
			// 新码已持久化，不回退，只向调用方报告
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to send OTP email"})
			return
		}
		h.logger.Error("resend otp failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
		return
	}

	h.logger.Info("otp resent", slog.String("email", user.Email))
	c.JSON(http.StatusOK, gin.H{"message": "OTP resent"})
}

// Login 校验凭据并签发 7 天有效的会话令牌。
//
// POST /api/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Please enter email and password"})
		return
	}
	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Please enter email and password"})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	user, err := h.users.FindUserByEmail(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
		return
	}

	if !user.IsEmailVerified {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Please verify OTP first"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid credentials"})
		return
	}

	token, err := h.issueToken(user.ID.Hex())
	if err != nil {
		h.logger.Error("sign token failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
		return
	}

	h.logger.Info("user logged in", slog.String("email", email))
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user": gin.H{
			"id":       user.ID.Hex(),
			"fullName": user.FullName,
			"email":    user.Email,
		},
	})
}

func (h *Handler) issueToken(userID string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}

func currentUser(c *gin.Context) (*model.User, bool) {
	v, ok := c.Get("user")
	if !ok {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok
}
