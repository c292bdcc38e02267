// ABOUTME: Identity provider contract consulted before persistence
// ABOUTME: Static provider for tests and command-line sessions

package identity

import "sync"

// Provider reports the signed-in user. A false result means nothing may be
// persisted; it is not an error.
type Provider interface {
	CurrentUser() (userID string, signedIn bool)
}

// Static is a provider whose user is set explicitly
type Static struct {
	mu     sync.RWMutex
	userID string
}

// NewStatic returns a provider signed in as userID, or signed out when empty
func NewStatic(userID string) *Static {
	return &Static{userID: userID}
}

func (s *Static) CurrentUser() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != ""
}

// SignIn switches the current user
func (s *Static) SignIn(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
}

// SignOut clears the current user
func (s *Static) SignOut() {
	s.mu.Lock()
	s.userID = ""
	s.mu.Unlock()
}
