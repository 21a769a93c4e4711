package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Identity 是客户端持有的当前登录身份。
type Identity struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

type state struct {
	Identity *Identity `json:"identity,omitempty"`
	Token    string    `json:"token,omitempty"`
}

// Manager 保存当前身份与会话令牌，并镜像到本地状态文件，
// 新进程启动时无需重新登录即可恢复会话。
type Manager struct {
	path  string
	state state
}

// NewManager 创建会话管理器并尝试从状态文件恢复。
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if err := json.Unmarshal(data, &m.state); err != nil {
		// 状态文件损坏时从空会话开始，不阻塞客户端
		m.state = state{}
		return m, nil
	}
	// 持久化的令牌也要通过形状校验才能继续使用
	if m.state.Token != "" && !validTokenShape(m.state.Token) {
		m.state.Token = ""
	}
	return m, nil
}

// Login 记录身份与令牌并持久化。
//
// 令牌必须具备签名令牌的三段式结构，否则丢弃令牌、仅保留身份。
func (m *Manager) Login(id Identity, token string) error {
	m.state.Identity = &id
	if validTokenShape(token) {
		m.state.Token = token
	} else {
		m.state.Token = ""
	}
	return m.save()
}

// Logout 清除身份、令牌与全部本地状态。
func (m *Manager) Logout() error {
	m.state = state{}
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// Identity 返回当前身份，未登录时为 nil。
func (m *Manager) Identity() *Identity {
	return m.state.Identity
}

// Token 返回当前令牌，可能为空。
func (m *Manager) Token() string {
	return m.state.Token
}

// Authenticated 返回是否持有可用的身份与令牌。
func (m *Manager) Authenticated() bool {
	return m.state.Identity != nil && m.state.Token != ""
}

func (m *Manager) save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// validTokenShape 校验三段式签名令牌结构（header.payload.signature）。
func validTokenShape(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
