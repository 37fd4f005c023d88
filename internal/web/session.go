package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/JonMunkholm/csvview/internal/view"
	"github.com/google/uuid"
)

const sessionCookie = "csvview_session"

// Session is one logged-in browser. It carries the row service credential
// and the two view controllers, so each browser pages and filters
// independently.
type Session struct {
	ID      string
	user    string
	expires time.Time

	mu         sync.Mutex
	credential string
	callbacks  []func()
	intent     *view.Intent
	intentFor  view.Mode
	flash      string

	ctrlOnce sync.Once
	data     *view.Controller
	filtered *view.Controller
}

var _ view.Session = (*Session)(nil)

// Credential returns the bearer token, or "" once invalidated.
func (s *Session) Credential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential
}

// Username returns the logged-in user.
func (s *Session) Username() string {
	return s.user
}

// Invalidate clears the credential and runs the OnUnauthorized callbacks
// once.
func (s *Session) Invalidate() {
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

// OnUnauthorized registers fn to run when the session is invalidated.
func (s *Session) OnUnauthorized(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// Valid reports whether the session still has a credential and has not
// expired.
func (s *Session) Valid(now time.Time) bool {
	return s.Credential() != "" && now.Before(s.expires)
}

// setIntent stores a navigation intent for the next load of the target view.
func (s *Session) setIntent(target view.Mode, in view.Intent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intent = &in
	s.intentFor = target
}

// takeIntent returns and clears the intent pending for mode, if any.
func (s *Session) takeIntent(mode view.Mode) *view.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intent == nil || s.intentFor != mode {
		return nil
	}
	in := s.intent
	s.intent = nil
	return in
}

func (s *Session) setFlash(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flash = msg
}

func (s *Session) takeFlash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.flash
	s.flash = ""
	return msg
}

// controllers returns the session's two controllers, creating them on first
// use.
func (s *Session) controllers(newFn func(*Session) (data, filtered *view.Controller)) (*view.Controller, *view.Controller) {
	s.ctrlOnce.Do(func() {
		data, filtered := newFn(s)
		s.mu.Lock()
		s.data, s.filtered = data, filtered
		s.mu.Unlock()
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data, s.filtered
}

func (s *Session) close() {
	s.mu.Lock()
	data, filtered := s.data, s.filtered
	s.mu.Unlock()
	if data != nil {
		data.Close()
	}
	if filtered != nil {
		filtered.Close()
	}
}

// SessionStore keeps sessions in memory, keyed by cookie value.
type SessionStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionStore returns a store whose sessions live for ttl.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create starts a session for user holding the row service credential.
// The session removes itself from the store when invalidated.
func (st *SessionStore) Create(user, credential string) *Session {
	s := &Session{
		ID:         uuid.NewString(),
		user:       user,
		credential: credential,
		expires:    st.now().Add(st.ttl),
	}
	s.OnUnauthorized(func() { st.Delete(s.ID) })

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s
}

// Get returns a live session.
func (st *SessionStore) Get(id string) (*Session, bool) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	st.mu.Unlock()

	if !ok {
		return nil, false
	}
	if !s.Valid(st.now()) {
		st.Delete(id)
		return nil, false
	}
	return s, true
}

// Delete removes a session and stops its controllers.
func (st *SessionStore) Delete(id string) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()

	if ok {
		s.close()
	}
}

// Len returns the number of stored sessions.
func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep removes expired sessions.
func (st *SessionStore) Sweep() int {
	now := st.now()

	st.mu.Lock()
	var expired []*Session
	for id, s := range st.sessions {
		if !now.Before(s.expires) {
			expired = append(expired, s)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	for _, s := range expired {
		s.close()
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (st *SessionStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.Sweep()
		}
	}
}

// sessionFromRequest loads the session named by the request cookie.
func (st *SessionStore) sessionFromRequest(r *http.Request) (*Session, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return nil, false
	}
	return st.Get(c.Value)
}

type sessionKey struct{}

func withSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// sessionFrom returns the session requireSession attached.
func sessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}
