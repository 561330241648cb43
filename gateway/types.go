package gateway

import (
	"sync"
	"time"
)

// Logger is the logging contract used by the gateway package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Observer is notified once per remote call. Status is zero when the request
// never reached the service.
type Observer func(operation string, status int, err error)

// User is the identity record returned by the auth endpoints.
type User struct {
	ID               string         `json:"id"`
	Aud              string         `json:"aud,omitempty"`
	Role             string         `json:"role,omitempty"`
	Email            string         `json:"email,omitempty"`
	Phone            string         `json:"phone,omitempty"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	LastSignInAt     *time.Time     `json:"last_sign_in_at,omitempty"`
	CreatedAt        *time.Time     `json:"created_at,omitempty"`
	UpdatedAt        *time.Time     `json:"updated_at,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
}

// Session is an authenticated gateway session.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// expiryMargin treats tokens about to expire as already expired.
const expiryMargin = 10 * time.Second

// Expired reports whether the access token is expired at now. A session
// without a known expiry never expires locally.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt == 0 {
		return false
	}
	return now.Add(expiryMargin).After(time.Unix(s.ExpiresAt, 0))
}

func (s *Session) normalize(now time.Time) *Session {
	if s == nil {
		return nil
	}
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
	return s
}

// AuthChangeEvent names the reason an auth state change was emitted.
type AuthChangeEvent string

const (
	EventSignedIn       AuthChangeEvent = "SIGNED_IN"
	EventSignedOut      AuthChangeEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthChangeEvent = "TOKEN_REFRESHED"
)

// AuthChangeFunc receives auth state notifications. Session is nil after a
// sign out.
type AuthChangeFunc func(event AuthChangeEvent, session *Session)

// Subscription is the handle returned by OnAuthStateChange.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// NewSubscription returns a handle that runs cancel on the first Unsubscribe.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// Unsubscribe detaches the listener. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

type defLogger struct{}

func (defLogger) Debug(msg string, args ...any) {}
func (defLogger) Info(msg string, args ...any)  {}
func (defLogger) Warn(msg string, args ...any)  {}
func (defLogger) Error(msg string, args ...any) {}
