package tui

import (
	"sync"

	"github.com/JonMunkholm/csvview/internal/view"
)

// session is the terminal's single login.
type session struct {
	user string

	mu         sync.Mutex
	credential string
	callbacks  []func()
}

var _ view.Session = (*session)(nil)

func newSession(user, credential string) *session {
	return &session{user: user, credential: credential}
}

func (s *session) Credential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential
}

func (s *session) Username() string {
	return s.user
}

func (s *session) Invalidate() {
	s.mu.Lock()
	if s.credential == "" {
		s.mu.Unlock()
		return
	}
	s.credential = ""
	callbacks := s.callbacks
	s.callbacks = nil
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

func (s *session) OnUnauthorized(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}
