package atelier

import (
	"net/http"
	"sync"
)

// SessionManager issues sessions for workers. Each worker owns exactly one
// session; the manager only hands them out, it never uses them itself. The
// seed cookies (typically the main session's login state) are copied into
// every new session so workers don't have to re-authenticate.
type SessionManager struct {
	server Server

	mu   sync.Mutex
	seed []*http.Cookie
}

// NewSessionManager creates a manager for the given server.
func NewSessionManager(server Server) *SessionManager {
	return &SessionManager{server: server}
}

// Seed stores cookies to preload into sessions created afterwards.
func (m *SessionManager) Seed(cookies []*http.Cookie) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seed = cookies
}

// NewSession creates a session seeded with the stored cookies. Ownership of
// the session transfers to the caller, who must Close it when done and must
// not share it with other goroutines.
func (m *SessionManager) NewSession() (*Session, error) {
	session, err := NewSession(m.server)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	seed := m.seed
	m.mu.Unlock()
	if len(seed) > 0 {
		session.SetCookies(seed)
	}
	return session, nil
}
