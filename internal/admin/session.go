package admin

import (
	"context"
	"fmt"
	"sync"

	"munportal/internal/api"
	"munportal/internal/cache"
	"munportal/internal/logging"
	"munportal/internal/session"
)

// Session owns the admin login state: the stored token and everything
// cached on its behalf.
type Session struct {
	backend   Backend
	tokens    *session.Tokens
	cache     cache.Cache
	loginPath string
	logger    logging.Logger

	mu       sync.Mutex
	onLogout []func(loginPath string)
}

func NewSession(backend Backend, tokens *session.Tokens, c cache.Cache, loginPath string, logger logging.Logger) *Session {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Session{
		backend:   backend,
		tokens:    tokens,
		cache:     c,
		loginPath: loginPath,
		logger:    logger,
	}
}

// LoginPath is where a logged out admin is sent.
func (s *Session) LoginPath() string {
	return s.loginPath
}

// OnLogout registers fn to run after every logout, with the login path.
func (s *Session) OnLogout(fn func(loginPath string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLogout = append(s.onLogout, fn)
}

// Login stores a fresh token and confirms it against /me.
func (s *Session) Login(ctx context.Context, creds api.Credentials) (*api.Admin, error) {
	token, err := s.backend.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.SetToken(ctx, token); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}
	s.cache.InvalidateAll()

	me, err := s.backend.Me(ctx)
	if err != nil {
		_ = s.tokens.ClearToken(ctx)
		return nil, err
	}
	s.logger.Info("admin logged in", "username", me.Username)
	return me, nil
}

func (s *Session) Authenticated(ctx context.Context) bool {
	token, err := s.tokens.Token(ctx)
	return err == nil && token != ""
}

// Logout clears every cached response and the stored token, then runs the
// logout hooks. Hooks run even if the token could not be removed.
func (s *Session) Logout(ctx context.Context) error {
	s.cache.InvalidateAll()
	err := s.tokens.ClearToken(ctx)
	if err != nil {
		s.logger.Error("clear token failed", "error", err)
	}

	s.mu.Lock()
	hooks := append([]func(string){}, s.onLogout...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(s.loginPath)
	}
	return err
}

// expire is the fetch orchestrator's answer to a 401.
func (s *Session) expire(ctx context.Context) {
	s.logger.Warn("admin session rejected by backend")
	_ = s.Logout(ctx)
}
