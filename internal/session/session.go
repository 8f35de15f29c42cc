// Package session tracks who is signed in on this device.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/lanpos/internal/pos"
	"github.com/roach88/lanpos/internal/replica"
)

var (
	// ErrInvalidCredentials is returned for an unknown user or a wrong PIN.
	ErrInvalidCredentials = errors.New("session: invalid credentials")

	// ErrUnknownUser is returned by Restore when the stored user is gone.
	ErrUnknownUser = errors.New("session: unknown user")
)

// Directory resolves users from the replicated document.
type Directory interface {
	Collection(name string) *replica.Collection
}

// Session is the signed-in user of one device. Safe for concurrent use.
type Session struct {
	dir    Directory
	logger *slog.Logger

	mu   sync.RWMutex
	user *pos.User
}

// New creates a signed-out session.
func New(dir Directory, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{dir: dir, logger: logger}
}

// Login signs in userID after checking pin against the stored bcrypt hash.
func (s *Session) Login(ctx context.Context, userID, pin string) (pos.User, error) {
	user, ok, err := s.lookup(ctx, userID)
	if err != nil {
		return pos.User{}, err
	}
	if !ok {
		s.logger.Warn("login failed", "user", userID, "reason", "unknown user")
		return pos.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PinHash), []byte(pin)); err != nil {
		s.logger.Warn("login failed", "user", userID, "reason", "pin mismatch")
		return pos.User{}, ErrInvalidCredentials
	}

	s.set(&user)
	s.logger.Info("user logged in", "user", user.ID, "role", user.Role)
	return user, nil
}

// Restore re-establishes a session for a user id remembered by the device,
// without asking for the PIN again.
func (s *Session) Restore(ctx context.Context, userID string) (pos.User, error) {
	user, ok, err := s.lookup(ctx, userID)
	if err != nil {
		return pos.User{}, err
	}
	if !ok {
		return pos.User{}, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	s.set(&user)
	return user, nil
}

// Logout clears the session.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user != nil {
		s.logger.Info("user logged out", "user", s.user.ID)
	}
	s.user = nil
}

// CurrentUser returns the signed-in user.
func (s *Session) CurrentUser() (pos.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return pos.User{}, false
	}
	return *s.user, true
}

// CurrentRole returns the signed-in user's role, or "" when signed out.
func (s *Session) CurrentRole() pos.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.Role
}

func (s *Session) set(u *pos.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
}

func (s *Session) lookup(ctx context.Context, userID string) (pos.User, bool, error) {
	rec, ok, err := s.dir.Collection(pos.CollectionUsers).Get(ctx, userID)
	if err != nil {
		return pos.User{}, false, fmt.Errorf("session: load user %s: %w", userID, err)
	}
	if !ok {
		return pos.User{}, false, nil
	}
	user, err := pos.DecodeUser(rec)
	if err != nil {
		return pos.User{}, false, fmt.Errorf("session: %w", err)
	}
	return user, true, nil
}
