package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSession_SignInOut(t *testing.T) {
	s := NewSession("")
	assert.Equal(t, "", s.CurrentUserID())

	var seen []string
	unsub := s.OnAuthStateChange(func(uid string) { seen = append(seen, uid) })

	s.SignIn("alice")
	s.SignIn("alice")
	s.SignOut()
	assert.Equal(t, []string{"alice", ""}, seen)
	assert.Equal(t, "", s.CurrentUserID())

	unsub()
	unsub()
	s.SignIn("bob")
	assert.Equal(t, []string{"alice", ""}, seen)
	assert.Equal(t, "bob", s.CurrentUserID())
}

func TestSession_ListenerOrder(t *testing.T) {
	s := NewSession("alice")
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		s.OnAuthStateChange(func(string) { order = append(order, i) })
	}
	s.SignOut()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestSession_ListenerMaySignIn(t *testing.T) {
	s := NewSession("")
	s.OnAuthStateChange(func(uid string) {
		if uid == "" {
			s.SignIn("guest")
		}
	})
	s.SignIn("alice")
	s.SignOut()
	assert.Equal(t, "guest", s.CurrentUserID())
}
