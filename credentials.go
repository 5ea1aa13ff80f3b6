package barterchat

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CredentialSource supplies the current bearer token. An empty token means
// the user is signed out.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticCredentials is a fixed token.
type StaticCredentials string

// Token returns the fixed token.
func (s StaticCredentials) Token(context.Context) (string, error) {
	return string(s), nil
}

// MemoryCredentials holds a token that can change at runtime, such as after a
// login or logout. Watchers are notified of every change.
type MemoryCredentials struct {
	mu       sync.RWMutex
	token    string
	watchers []func(token string)
}

// NewMemoryCredentials creates a credential holder with an initial token.
func NewMemoryCredentials(token string) *MemoryCredentials {
	return &MemoryCredentials{token: token}
}

// Token returns the current token.
func (m *MemoryCredentials) Token(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, nil
}

// Set replaces the token and notifies watchers.
func (m *MemoryCredentials) Set(token string) {
	m.mu.Lock()
	if m.token == token {
		m.mu.Unlock()
		return
	}
	m.token = token
	watchers := append([]func(string){}, m.watchers...)
	m.mu.Unlock()
	for _, w := range watchers {
		w(token)
	}
}

// Clear signs the user out.
func (m *MemoryCredentials) Clear() {
	m.Set("")
}

// Watch registers fn to run after every token change.
func (m *MemoryCredentials) Watch(fn func(token string)) {
	m.mu.Lock()
	m.watchers = append(m.watchers, fn)
	m.mu.Unlock()
}

// TokenExpiry returns the exp claim of a JWT without verifying its signature.
// ok is false for opaque tokens and tokens without exp.
func TokenExpiry(token string) (exp time.Time, ok bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// readCredential fetches the token and rejects missing or expired ones
// before any network traffic happens.
func readCredential(ctx context.Context, src CredentialSource, now time.Time) (string, AuthReason, error) {
	if src == nil {
		return "", AuthMissing, ErrAuthRequired
	}
	token, err := src.Token(ctx)
	if err != nil {
		return "", AuthMissing, newError(ErrorAuth, "credential", "credential source failed", err)
	}
	if token == "" {
		return "", AuthMissing, ErrAuthRequired
	}
	if exp, ok := TokenExpiry(token); ok && !now.Before(exp) {
		return "", AuthExpired, &Error{Kind: ErrorAuth, Op: "credential", Message: "token expired at " + exp.Format(time.RFC3339)}
	}
	return token, "", nil
}
