package server

import (
	"crypto/rand"
	"fmt"
	"log"
	"sync"
	"time"
)

// relaySession binds a token to one connected device.
type relaySession struct {
	deviceID string
	timer    *time.Timer
}

// SessionManager issues and validates relay session tokens. Each connected
// device holds its own token; a token expires after timeout without a
// refresh.
type SessionManager struct {
	apiSecret string // Optional API secret for hello
	timeout   time.Duration
	sessions  map[string]*relaySession
	mu        sync.RWMutex
}

// NewSessionManager creates a new session manager. A zero timeout disables
// expiry.
func NewSessionManager(apiSecret string, timeout time.Duration) *SessionManager {
	return &SessionManager{
		apiSecret: apiSecret,
		timeout:   timeout,
		sessions:  make(map[string]*relaySession),
	}
}

// generateSessionToken generates a cryptographically secure random session token
func generateSessionToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		log.Fatalf("Failed to generate session token: %v", err)
	}
	return fmt.Sprintf("%x", b)
}

// Acquire issues a token for deviceID. It returns "" when the secret does
// not match the configured API secret.
func (m *SessionManager) Acquire(secret string, deviceID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.apiSecret != "" && secret != m.apiSecret {
		return ""
	}

	token := generateSessionToken()
	sess := &relaySession{deviceID: deviceID}
	if m.timeout > 0 {
		sess.timer = time.AfterFunc(m.timeout, func() {
			m.Release(token)
			log.Printf("Session timeout - token released for device %s", deviceID)
		})
	}
	m.sessions[token] = sess

	log.Printf("Session acquired: %s (device: %s)", token[:8]+"...", deviceID)
	return token
}

// Validate reports whether token is live and bound to deviceID.
func (m *SessionManager) Validate(token string, deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[token]
	if !ok {
		return false
	}
	if sess.deviceID != deviceID {
		log.Printf("Session validation failed: device mismatch (expected: %s, got: %s)", sess.deviceID, deviceID)
		return false
	}
	return true
}

// Release invalidates token.
func (m *SessionManager) Release(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[token]
	if !ok {
		return
	}
	if sess.timer != nil {
		sess.timer.Stop()
	}
	delete(m.sessions, token)
	log.Printf("Session released: %s", token[:8]+"...")
}

// RefreshTimeout restarts the expiry timer for token.
func (m *SessionManager) RefreshTimeout(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[token]; ok && sess.timer != nil {
		sess.timer.Reset(m.timeout)
	}
}

// Active returns the number of live tokens.
func (m *SessionManager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
