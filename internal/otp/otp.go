package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/amsuru18/FolkTrade/internal/model"
	"github.com/amsuru18/FolkTrade/internal/pkg/metrics"
)

const (
	// ChallengeTTL 验证码有效期。
	ChallengeTTL = 10 * time.Minute
	// ResendInterval 重发最小间隔。
	ResendInterval = 60 * time.Second
)

var (
	// ErrNoChallenge 当前没有未消费的验证码。
	ErrNoChallenge = errors.New("no otp requested")
	// ErrExpired 验证码已过期。
	ErrExpired = errors.New("otp expired")
	// ErrMismatch 验证码不匹配。
	ErrMismatch = errors.New("invalid otp")
	// ErrDispatchFailed 验证码已落库但邮件发送失败。
	ErrDispatchFailed = errors.New("otp email dispatch failed")
)

// UserStore 是发码/验码所需的最小存储接口。
type UserStore interface {
	UpdateUser(ctx context.Context, user *model.User) error
}

// Mailer 外发验证码邮件。
type Mailer interface {
	SendOTP(toEmail string, code string) error
}

// Service 是唯一的验证码签发/校验入口。
//
// 注册、已登录重发、换绑邮箱三条路径都经由这里，避免行为漂移。
type Service struct {
	users  UserStore
	mailer Mailer
	logger *slog.Logger
	now    func() time.Time
}

// NewService 创建 OTP 服务。
func NewService(users UserStore, mailer Mailer, logger *slog.Logger) *Service {
	return &Service{
		users:  users,
		mailer: mailer,
		logger: logger,
		now:    time.Now,
	}
}

// Prepare 在用户字段上生成一个新验证码挑战，不落库。
//
// 注册路径在首次插入前调用：账号与挑战随同一次写入持久化，
// 不存在"账号已建、挑战丢失"的中间态。
func (s *Service) Prepare(user *model.User) error {
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	now := s.now()
	exp := now.Add(ChallengeTTL)

	user.OTP = code
	user.OTPExpires = &exp
	user.OTPSentAt = &now
	return nil
}

// Dispatch 外发当前挑战的验证码邮件，失败返回 ErrDispatchFailed。
//
// 只在挑战已持久化之后调用；失败不回滚，用户通过重发补救。
func (s *Service) Dispatch(user *model.User) error {
	if err := s.mailer.SendOTP(user.Email, user.OTP); err != nil {
		metrics.OTPEmailFailuresTotal.Inc()
		s.logger.Warn("send otp email failed",
			slog.String("email", user.Email),
			slog.String("error", err.Error()),
		)
		return ErrDispatchFailed
	}
	metrics.OTPEmailsSentTotal.Inc()
	return nil
}

// Issue 为已存在的用户签发一个新验证码并发送邮件。
//
// 签发会覆盖任何现存验证码（旧码立即失效）。验证码先落库后发邮件，
// 邮件失败返回 ErrDispatchFailed。
func (s *Service) Issue(ctx context.Context, user *model.User) error {
	if err := s.Prepare(user); err != nil {
		return err
	}
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("save otp: %w", err)
	}
	return s.Dispatch(user)
}

// Verify 校验提交的验证码，成功时清除挑战并置位 IsEmailVerified。
//
// 成功是一次性的：消费后挑战被清除，重复验证返回 ErrNoChallenge。
func (s *Service) Verify(ctx context.Context, user *model.User, submitted string) error {
	if !user.HasChallenge() {
		return ErrNoChallenge
	}
	if !s.now().Before(*user.OTPExpires) {
		return ErrExpired
	}
	if subtle.ConstantTimeCompare([]byte(user.OTP), []byte(submitted)) != 1 {
		return ErrMismatch
	}

	user.ClearChallenge()
	user.IsEmailVerified = true
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("save verification: %w", err)
	}
	metrics.VerificationsTotal.Inc()
	return nil
}

// ResendRemaining 返回距离允许重发还差多久，0 表示可以重发。
func (s *Service) ResendRemaining(user *model.User) time.Duration {
	if user.OTPSentAt == nil {
		return 0
	}
	elapsed := s.now().Sub(*user.OTPSentAt)
	if elapsed >= ResendInterval {
		return 0
	}
	return ResendInterval - elapsed
}

// generateCode 生成 [100000, 999999] 区间内的均匀随机 6 位码。
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
