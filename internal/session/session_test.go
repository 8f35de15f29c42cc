package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/lanpos/internal/pos"
	"github.com/roach88/lanpos/internal/replica"
)

func setup(t *testing.T) *replica.Replica {
	t.Helper()
	r, err := replica.Open(":memory:", replica.WithPeerID("a"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("1234"), bcrypt.MinCost)
	require.NoError(t, err)
	user := pos.User{ID: "user-1", Name: "Alice", Role: pos.RoleCashier, PinHash: string(hash)}
	require.NoError(t, r.Collection(pos.CollectionUsers).Append(context.Background(), user.Record()))
	return r
}

func TestLogin(t *testing.T) {
	s := New(setup(t), nil)

	_, ok := s.CurrentUser()
	assert.False(t, ok)
	assert.Equal(t, pos.Role(""), s.CurrentRole())

	user, err := s.Login(context.Background(), "user-1", "1234")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)

	current, ok := s.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "user-1", current.ID)
	assert.Equal(t, pos.RoleCashier, s.CurrentRole())
}

func TestLogin_WrongPIN(t *testing.T) {
	s := New(setup(t), nil)

	_, err := s.Login(context.Background(), "user-1", "0000")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, ok := s.CurrentUser()
	assert.False(t, ok)
}

func TestLogin_UnknownUser(t *testing.T) {
	s := New(setup(t), nil)

	_, err := s.Login(context.Background(), "user-9", "1234")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRestoreAndLogout(t *testing.T) {
	s := New(setup(t), nil)

	_, err := s.Restore(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, pos.RoleCashier, s.CurrentRole())

	s.Logout()
	_, ok := s.CurrentUser()
	assert.False(t, ok)

	_, err = s.Restore(context.Background(), "user-9")
	require.ErrorIs(t, err, ErrUnknownUser)
}
