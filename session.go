package skillswap

import (
	"errors"
	"sync"
)

// ErrNoSession is returned by SessionStore.Load when nothing was persisted.
var ErrNoSession = errors.New("no saved session")

// Session is what survives a restart: the Basic credentials and the last
// known profile of the signed-in user.
type Session struct {
	Username string
	Password string
	User     *User
}

// SessionStore persists the signed-in session.
type SessionStore interface {
	Load() (*Session, error)
	Save(s *Session) error
	Clear() error
}

// MemorySessionStore keeps the session in process memory.
type MemorySessionStore struct {
	mu      sync.Mutex
	session *Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (m *MemorySessionStore) Load() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, ErrNoSession
	}
	return cloneSession(m.session), nil
}

func (m *MemorySessionStore) Save(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = cloneSession(s)
	return nil
}

func (m *MemorySessionStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

func cloneSession(s *Session) *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.User = cloneUser(s.User)
	return &out
}

func cloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Skillset = append([]Skill{}, u.Skillset...)
	return &out
}
