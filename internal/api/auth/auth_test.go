package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amsuru18/FolkTrade/internal/model"
	"github.com/amsuru18/FolkTrade/internal/otp"
	"github.com/amsuru18/FolkTrade/internal/pkg/metrics"
	"github.com/amsuru18/FolkTrade/internal/store"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

type mockUserStore struct {
	createFunc      func(ctx context.Context, user *model.User) error
	findByEmailFunc func(ctx context.Context, email string) (*model.User, error)
	findByIDFunc    func(ctx context.Context, id string) (*model.User, error)
	updateFunc      func(ctx context.Context, user *model.User) error
	createCalls     int
	updateCalls     int
}

func (m *mockUserStore) CreateUser(ctx context.Context, user *model.User) error {
	m.createCalls++
	if m.createFunc != nil {
		return m.createFunc(ctx, user)
	}
	user.ID = primitive.NewObjectID()
	return nil
}

func (m *mockUserStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFunc != nil {
		return m.findByEmailFunc(ctx, email)
	}
	return nil, store.ErrNotFound
}

func (m *mockUserStore) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockUserStore) UpdateUser(ctx context.Context, user *model.User) error {
	m.updateCalls++
	if m.updateFunc != nil {
		return m.updateFunc(ctx, user)
	}
	return nil
}

type mockMailer struct {
	sendFunc  func(toEmail, code string) error
	sendCalls int
	lastCode  string
}

func (m *mockMailer) SendOTP(toEmail string, code string) error {
	m.sendCalls++
	m.lastCode = code
	if m.sendFunc != nil {
		return m.sendFunc(toEmail, code)
	}
	return nil
}

func newTestHandler(users *mockUserStore, mailer *mockMailer) *Handler {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(users, otp.NewService(users, mailer, logger), "test-secret", logger)
}

func postJSON(t *testing.T, handler gin.HandlerFunc, path string, body any, setup func(*gin.Context)) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.POST(path, func(c *gin.Context) {
		if setup != nil {
			setup(c)
		}
		handler(c)
	})

	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSignup_Normal(t *testing.T) {
	users := &mockUserStore{}
	mailer := &mockMailer{}
	h := newTestHandler(users, mailer)

	w := postJSON(t, h.Signup, "/signup", signupRequest{
		FullName: "Ada Lovelace",
		Email:    "Ada@Example.com",
		Password: "secret12",
	}, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if users.createCalls != 1 {
		t.Fatalf("expected user created")
	}
	if mailer.sendCalls != 1 {
		t.Fatalf("expected otp email sent")
	}

	var out struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || out.UserID == "" {
		t.Fatalf("expected userId in response: %s", w.Body.String())
	}
}

func TestSignup_Validation(t *testing.T) {
	cases := []struct {
		name string
		req  signupRequest
		want string
	}{
		{"missing fields", signupRequest{Email: "a@b.com"}, "Please fill all fields"},
		{"bad email", signupRequest{FullName: "A", Email: "not-an-email", Password: "secret12"}, "Invalid email format"},
		{"short password", signupRequest{FullName: "A", Email: "a@b.com", Password: "123"}, "Password must be at least 6 characters"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			users := &mockUserStore{}
			h := newTestHandler(users, &mockMailer{})

			w := postJSON(t, h.Signup, "/signup", tc.req, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if !strings.Contains(w.Body.String(), tc.want) {
				t.Fatalf("expected %q in body: %s", tc.want, w.Body.String())
			}
			if users.createCalls != 0 {
				t.Fatalf("must not create user on validation failure")
			}
		})
	}
}

func TestSignup_DuplicateEmail(t *testing.T) {
	existing := &model.User{ID: primitive.NewObjectID(), Email: "a@b.com"}
	users := &mockUserStore{
		findByEmailFunc: func(ctx context.Context, email string) (*model.User, error) {
			return existing, nil
		},
	}
	h := newTestHandler(users, &mockMailer{})

	w := postJSON(t, h.Signup, "/signup", signupRequest{
		FullName: "A", Email: "a@b.com", Password: "secret12",
	}, nil)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "User already exists") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

// 挑战必须随首次插入一起落库：插入之后不再有第二次用户写入，
// 否则第二次写入失败会留下无码、无法登录也无法重发的死账号。
func TestSignup_ChallengePersistedWithInsert(t *testing.T) {
	var inserted model.User
	users := &mockUserStore{
		createFunc: func(ctx context.Context, user *model.User) error {
			user.ID = primitive.NewObjectID()
			inserted = *user
			return nil
		},
		updateFunc: func(context.Context, *model.User) error {
			return errors.New("no second write allowed during signup")
		},
	}
	mailer := &mockMailer{}
	h := newTestHandler(users, mailer)

	w := postJSON(t, h.Signup, "/signup", signupRequest{
		FullName: "A", Email: "a@b.com", Password: "secret12",
	}, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if !inserted.HasChallenge() {
		t.Fatalf("expected otp challenge stored with the insert itself")
	}
	if users.updateCalls != 0 {
		t.Fatalf("signup must not issue a second user write, got %d", users.updateCalls)
	}
	if mailer.sendCalls != 1 || mailer.lastCode != inserted.OTP {
		t.Fatalf("expected the persisted code mailed, got %q vs %q", mailer.lastCode, inserted.OTP)
	}
}

func TestSignup_MailFailureStillCreated(t *testing.T) {
	users := &mockUserStore{}
	mailer := &mockMailer{sendFunc: func(string, string) error { return context.DeadlineExceeded }}
	h := newTestHandler(users, mailer)

	w := postJSON(t, h.Signup, "/signup", signupRequest{
		FullName: "A", Email: "a@b.com", Password: "secret12",
	}, nil)

	// 邮件失败不回滚注册，仍返回 201，用户可走重发
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 despite mail failure, got %d: %s", w.Code, w.Body.String())
	}
	if users.createCalls != 1 {
		t.Fatalf("expected user created")
	}
}

func TestVerifyOTP_FullFlow(t *testing.T) {
	mailer := &mockMailer{}
	var saved *model.User
	users := &mockUserStore{}
	users.findByIDFunc = func(ctx context.Context, id string) (*model.User, error) {
		if saved != nil && saved.ID.Hex() == id {
			return saved, nil
		}
		return nil, store.ErrNotFound
	}
	h := newTestHandler(users, mailer)

	w := postJSON(t, h.Signup, "/signup", signupRequest{
		FullName: "A", Email: "a@b.com", Password: "secret12",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("signup failed: %d %s", w.Code, w.Body.String())
	}
	var signupOut struct {
		UserID string `json:"userId"`
	}
	json.Unmarshal(w.Body.Bytes(), &signupOut)

	// 从发信侧拿到真实验证码，模拟用户读邮件
	exp := time.Now().Add(otp.ChallengeTTL)
	sent := time.Now()
	saved = &model.User{Email: "a@b.com", OTP: mailer.lastCode, OTPExpires: &exp, OTPSentAt: &sent}
	saved.ID, _ = primitive.ObjectIDFromHex(signupOut.UserID)

	w = postJSON(t, h.VerifyOTP, "/verify-otp", verifyOTPRequest{
		UserID: signupOut.UserID, OTP: mailer.lastCode,
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !saved.IsEmailVerified {
		t.Fatalf("expected user marked verified")
	}
	if !strings.Contains(w.Body.String(), "OTP verified successfully") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	// 响应里不能出现敏感字段
	if strings.Contains(w.Body.String(), "password") || strings.Contains(w.Body.String(), "otp\"") {
		t.Fatalf("sensitive fields leaked: %s", w.Body.String())
	}

	// 一次性消费：重复提交同一个码
	w = postJSON(t, h.VerifyOTP, "/verify-otp", verifyOTPRequest{
		UserID: signupOut.UserID, OTP: mailer.lastCode,
	}, nil)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "No OTP requested") {
		t.Fatalf("expected replay rejection, got %d: %s", w.Code, w.Body.String())
	}

	// 验证完成后可以登录
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret12"), bcrypt.MinCost)
	saved.Password = string(hash)
	users.findByEmailFunc = func(ctx context.Context, email string) (*model.User, error) {
		if email == saved.Email {
			return saved, nil
		}
		return nil, store.ErrNotFound
	}
	w = postJSON(t, h.Login, "/login", loginRequest{Email: "a@b.com", Password: "secret12"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected login after verification, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVerifyOTP_WrongCode(t *testing.T) {
	exp := time.Now().Add(otp.ChallengeTTL)
	user := &model.User{ID: primitive.NewObjectID(), Email: "a@b.com", OTP: "123456", OTPExpires: &exp}
	users := &mockUserStore{
		findByIDFunc: func(ctx context.Context, id string) (*model.User, error) { return user, nil },
	}
	h := newTestHandler(users, &mockMailer{})

	w := postJSON(t, h.VerifyOTP, "/verify-otp", verifyOTPRequest{
		UserID: user.ID.Hex(), OTP: "654321",
	}, nil)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "Invalid OTP") {
		t.Fatalf("expected invalid otp, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVerifyOTP_Expired(t *testing.T) {
	exp := time.Now().Add(-time.Minute)
	user := &model.User{ID: primitive.NewObjectID(), Email: "a@b.com", OTP: "123456", OTPExpires: &exp}
	users := &mockUserStore{
		findByIDFunc: func(ctx context.Context, id string) (*model.User, error) { return user, nil },
	}
	h := newTestHandler(users, &mockMailer{})

	w := postJSON(t, h.VerifyOTP, "/verify-otp", verifyOTPRequest{
		UserID: user.ID.Hex(), OTP: "123456",
	}, nil)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "OTP expired") {
		t.Fatalf("expected expiry rejection, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVerifyOTP_UnknownUser(t *testing.T) {
	h := newTestHandler(&mockUserStore{}, &mockMailer{})

	w := postJSON(t, h.VerifyOTP, "/verify-otp", verifyOTPRequest{
		UserID: primitive.NewObjectID().Hex(), OTP: "123456",
	}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestResendOTP_Throttled(t *testing.T) {
	sent := time.Now().Add(-10 * time.Second)
	user := &model.User{ID: primitive.NewObjectID(), Email: "a@b.com", OTPSentAt: &sent}
	users := &mockUserStore{}
	mailer := &mockMailer{}
	h := newTestHandler(users, mailer)

	w := postJSON(t, h.ResendOTP, "/resend-otp", nil, func(c *gin.Context) {
		c.Set("user", user)
	})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", w.Code, w.Body.String())
	}
	var out struct {
		RetryAfter int `json:"retry_after"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || out.RetryAfter <= 0 || out.RetryAfter > 60 {
		t.Fatalf("expected retry_after hint, got %s", w.Body.String())
	}
	if mailer.sendCalls != 0 {
		t.Fatalf("throttled resend must not send email")
	}
}

func TestResendOTP_ResetsVerification(t *testing.T) {
	user := &model.User{ID: primitive.NewObjectID(), Email: "a@b.com", IsEmailVerified: true}
	users := &mockUserStore{}
	mailer := &mockMailer{}
	h := newTestHandler(users, mailer)

	w := postJSON(t, h.ResendOTP, "/resend-otp", nil, func(c *gin.Context) {
		c.Set("user", user)
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if user.IsEmailVerified {
		t.Fatalf("resend must reset verification state")
	}
	if mailer.sendCalls != 1 || !user.HasChallenge() {
		t.Fatalf("expected fresh challenge issued")
	}
}

func TestResendOTP_MailFailure(t *testing.T) {
	user := &model.User{ID: primitive.NewObjectID(), Email: "a@b.com"}
	mailer := &mockMailer{sendFunc: func(string, string) error { return context.DeadlineExceeded }}
	h := newTestHandler(&mockUserStore{}, mailer)

	w := postJSON(t, h.ResendOTP, "/resend-otp", nil, func(c *gin.Context) {
		c.Set("user", user)
	})
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "Failed to send OTP email") {
		t.Fatalf("expected dispatch failure reported, got %d: %s", w.Code, w.Body.String())
	}
	// 新码已落库，不回退
	if !user.HasChallenge() {
		t.Fatalf("expected challenge persisted despite mail failure")
	}
}

func TestLogin_Normal(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret12"), bcrypt.MinCost)
	user := &model.User{
		ID:              primitive.NewObjectID(),
		FullName:        "Ada",
		Email:           "a@b.com",
		Password:        string(hash),
		IsEmailVerified: true,
	}
	users := &mockUserStore{
		findByEmailFunc: func(ctx context.Context, email string) (*model.User, error) {
			if email == user.Email {
				return user, nil
			}
			return nil, store.ErrNotFound
		},
	}
	h := newTestHandler(users, &mockMailer{})

	w := postJSON(t, h.Login, "/login", loginRequest{Email: "A@B.com", Password: "secret12"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var out struct {
		Token string `json:"token"`
		User  struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(strings.Split(out.Token, ".")) != 3 {
		t.Fatalf("expected signed token, got %q", out.Token)
	}
	if out.User.ID != user.ID.Hex() || out.User.Email != user.Email {
		t.Fatalf("unexpected user payload: %s", w.Body.String())
	}
}

func TestLogin_Rejections(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret12"), bcrypt.MinCost)
	verified := &model.User{ID: primitive.NewObjectID(), Email: "a@b.com", Password: string(hash), IsEmailVerified: true}
	unverified := &model.User{ID: primitive.NewObjectID(), Email: "u@b.com", Password: string(hash)}

	users := &mockUserStore{
		findByEmailFunc: func(ctx context.Context, email string) (*model.User, error) {
			switch email {
			case verified.Email:
				return verified, nil
			case unverified.Email:
				return unverified, nil
			}
			return nil, store.ErrNotFound
		},
	}
	h := newTestHandler(users, &mockMailer{})

	cases := []struct {
		name     string
		req      loginRequest
		wantCode int
		wantMsg  string
	}{
		{"missing fields", loginRequest{Email: "a@b.com"}, http.StatusBadRequest, "Please enter email and password"},
		{"unknown email", loginRequest{Email: "x@b.com", Password: "secret12"}, http.StatusUnauthorized, "Invalid credentials"},
		{"wrong password", loginRequest{Email: "a@b.com", Password: "wrongpw"}, http.StatusUnauthorized, "Invalid credentials"},
		{"unverified", loginRequest{Email: "u@b.com", Password: "secret12"}, http.StatusUnauthorized, "Please verify OTP first"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postJSON(t, h.Login, "/login", tc.req, nil)
			if w.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d: %s", tc.wantCode, w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tc.wantMsg) {
				t.Fatalf("expected %q in body: %s", tc.wantMsg, w.Body.String())
			}
		})
	}
}
