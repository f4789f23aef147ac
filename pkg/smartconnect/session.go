package smartconnect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
)

// Credentials are the login inputs for a TOTP-enabled SmartAPI account.
type Credentials struct {
	ClientCode string
	PIN        string
	TOTPSecret string // base32 seed from the SmartAPI TOTP enrolment
}

// Session keeps a SmartConnect logged in. Login generates a fresh TOTP code
// each time; GetCandleData re-logs in once when a call fails with ErrTokenExpired.
type Session struct {
	client *SmartConnect
	creds  Credentials
	now    func() time.Time

	mu       sync.Mutex
	loggedIn time.Time
}

// NewSession wraps client with automatic TOTP login.
func NewSession(client *SmartConnect, creds Credentials) *Session {
	return &Session{client: client, creds: creds, now: time.Now}
}

// Client returns the wrapped client.
func (s *Session) Client() *SmartConnect { return s.client }

// Login performs a password+TOTP login.
func (s *Session) Login(ctx context.Context) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginLocked(ctx)
}

func (s *Session) loginLocked(ctx context.Context) (*Profile, error) {
	code, err := totp.GenerateCode(s.creds.TOTPSecret, s.now())
	if err != nil {
		return nil, fmt.Errorf("generate totp: %w", err)
	}
	prof, err := s.client.GenerateSession(ctx, s.creds.ClientCode, s.creds.PIN, code)
	if err != nil {
		return nil, err
	}
	s.loggedIn = s.now()
	s.client.log.Info("session established", "client_code", prof.ClientCode)
	return prof, nil
}

// LoggedInAt returns the time of the last successful login.
func (s *Session) LoggedInAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// GetCandleData fetches candles. On an expired token it renews the token
// from the refresh token, or logs in again, and retries once.
func (s *Session) GetCandleData(ctx context.Context, p CandleParams) ([]Candle, error) {
	candles, err := s.client.GetCandleData(ctx, p)
	if !errors.Is(err, ErrTokenExpired) {
		return candles, err
	}
	if relogErr := s.relogin(ctx); relogErr != nil {
		return nil, fmt.Errorf("relogin after %v: %w", err, relogErr)
	}
	return s.client.GetCandleData(ctx, p)
}

func (s *Session) relogin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.client.GenerateToken(ctx)
	if err == nil {
		s.client.log.Info("access token renewed")
		return nil
	}
	s.client.log.Warn("token renewal failed, logging in again", "error", err)
	_, err = s.loginLocked(ctx)
	return err
}
