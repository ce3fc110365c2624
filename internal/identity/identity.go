// Package identity abstracts the external identity provider. The feed only
// ever sees the current user as an opaque id; "" means signed out.
package identity

import "sync"

// Provider supplies the signed-in user.
type Provider interface {
	CurrentUserID() string
	// OnAuthStateChange registers fn for sign-in and sign-out transitions
	// and returns a function that removes it.
	OnAuthStateChange(fn func(userID string)) (unsubscribe func())
}

// Session is an in-process Provider. Listeners are called synchronously,
// outside the session lock, in registration order.
type Session struct {
	mu        sync.Mutex
	uid       string
	next      int
	order     []int
	listeners map[int]func(string)
}

// NewSession returns a session signed in as uid, or signed out if uid is "".
func NewSession(uid string) *Session {
	return &Session{uid: uid, listeners: make(map[int]func(string))}
}

func (s *Session) CurrentUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uid
}

func (s *Session) OnAuthStateChange(fn func(userID string)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.listeners[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Listeners reports how many auth-state callbacks are registered.
func (s *Session) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// SignIn switches the session to uid. A no-op if uid is already current.
func (s *Session) SignIn(uid string) { s.set(uid) }

// SignOut clears the current user.
func (s *Session) SignOut() { s.set("") }

func (s *Session) set(uid string) {
	s.mu.Lock()
	if s.uid == uid {
		s.mu.Unlock()
		return
	}
	s.uid = uid
	fns := make([]func(string), 0, len(s.listeners))
	live := s.order[:0]
	for _, id := range s.order {
		if fn, ok := s.listeners[id]; ok {
			fns = append(fns, fn)
			live = append(live, id)
		}
	}
	s.order = live
	s.mu.Unlock()

	for _, fn := range fns {
		fn(uid)
	}
}
