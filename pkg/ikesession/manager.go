package ikesession

import (
	"errors"
	"sync"
)

// Manager 持有按调用方命名的多条会话。进程里通常只有一个 Manager，
// 但它不是全局单例——全局状态只允许存在于 SPI 注册表。
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Open 构造并启动一条新会话。同名会话已存在时拒绝。
func (m *Manager) Open(id string, cfg Config) (*Session, error) {
	if id == "" {
		return nil, errors.New("ikesession: 会话 id 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; ok {
		return nil, errors.New("ikesession: 会话 id 已存在")
	}
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = s
	s.Open()
	return s, nil
}

// Close 请求指定会话优雅关闭并把它从表中摘除。
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return errors.New("ikesession: 会话 id 不存在")
	}
	s.Close()
	return nil
}

// Get 返回指定 id 的会话。
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}
