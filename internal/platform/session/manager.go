package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for tokens that fail signature checks or do
// not name a live session.
var ErrInvalidToken = errors.New("sesión inválida o terminada")

const issuer = "registro"

// Session is the state of one logged-in user. It is held in memory only.
type Session struct {
	ID            string
	UserName      string
	Authenticated bool
	CreatedAt     time.Time

	mu            sync.Mutex
	pendingDelete *int64
	lastSeen      time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idle(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen) > ttl
}

// RequestDelete marks id as awaiting confirmation, replacing any earlier
// pending request.
func (s *Session) RequestDelete(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingDelete = &id
}

// ConfirmDelete clears the pending request and reports whether it was for
// id. A mismatch leaves the pending request untouched.
func (s *Session) ConfirmDelete(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingDelete == nil || *s.pendingDelete != id {
		return false
	}
	s.pendingDelete = nil
	return true
}

// CancelDelete drops any pending request.
func (s *Session) CancelDelete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingDelete = nil
}

// PendingDelete returns the id awaiting confirmation, if any.
func (s *Session) PendingDelete() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingDelete == nil {
		return 0, false
	}
	return *s.pendingDelete, true
}

type claims struct {
	jwt.RegisteredClaims
	UserName string `json:"name"`
}

// Manager issues session tokens and keeps the sessions they refer to. A
// token is an HS256 JWT whose ID claim is the session id; revoking the
// session (End) invalidates the token even though the JWT itself carries no
// expiry. With an idle TTL set, sessions unused for longer than the TTL are
// dropped when the next session is created.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	key       []byte
	now       func() time.Time
	idleTTL   time.Duration
	lastSweep time.Time
}

// NewManager creates a manager signing with key. An empty key is replaced
// with 32 random bytes, which invalidates all tokens on restart.
func NewManager(key []byte) (*Manager, error) {
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}
	return &Manager{
		sessions: make(map[string]*Session),
		key:      key,
		now:      time.Now,
	}, nil
}

// SetIdleTTL enables the idle sweep. Zero keeps sessions until logout.
func (m *Manager) SetIdleTTL(ttl time.Duration) {
	m.mu.Lock()
	m.idleTTL = ttl
	m.mu.Unlock()
}

// Create starts an authenticated session for userName and returns it with
// its bearer token.
func (m *Manager) Create(userName string) (*Session, string, error) {
	s := &Session{
		ID:            uuid.New().String(),
		UserName:      userName,
		Authenticated: true,
		CreatedAt:     m.now().UTC(),
	}
	s.lastSeen = s.CreatedAt

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       s.ID,
			Issuer:   issuer,
			Subject:  userName,
			IssuedAt: jwt.NewNumericDate(s.CreatedAt),
		},
		UserName: userName,
	})
	signed, err := token.SignedString(m.key)
	if err != nil {
		return nil, "", fmt.Errorf("sign session token: %w", err)
	}

	m.mu.Lock()
	m.sweepLocked(s.CreatedAt)
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, signed, nil
}

func (m *Manager) sweepLocked(now time.Time) {
	if m.idleTTL <= 0 || now.Sub(m.lastSweep) < m.idleTTL/4 {
		return
	}
	for id, s := range m.sessions {
		if s.idle(now, m.idleTTL) {
			delete(m.sessions, id)
		}
	}
	m.lastSweep = now
}

// Lookup returns the live session named by token.
func (m *Manager) Lookup(token string) (*Session, error) {
	id, err := m.parse(token)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidToken
	}
	s.touch(m.now().UTC())
	return s, nil
}

// End removes the session named by token. Ending an unknown session is not
// an error.
func (m *Manager) End(token string) error {
	id, err := m.parse(token)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) parse(token string) (string, error) {
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (interface{}, error) {
		return m.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(issuer))
	if err != nil || !parsed.Valid || c.ID == "" {
		return "", ErrInvalidToken
	}
	return c.ID, nil
}
