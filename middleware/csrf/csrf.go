package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

const (
	TextCodeTokenMissing  = "csrf_token_missing"
	TextCodeTokenMismatch = "csrf_token_mismatch"
	TextCodeTokenExpired  = "csrf_token_expired"
)

var (
	ErrTokenMissing = errors.New("CSRF token missing", errors.CategoryBadInput).
			WithTextCode(TextCodeTokenMissing).
			WithCode(errors.CodeBadRequest)
	ErrTokenMismatch = errors.New("CSRF token mismatch", errors.CategoryAuthz).
				WithTextCode(TextCodeTokenMismatch).
				WithCode(errors.CodeForbidden)
	ErrTokenExpired = errors.New("CSRF token expired", errors.CategoryAuthz).
			WithTextCode(TextCodeTokenExpired).
			WithCode(errors.CodeForbidden)
)

const (
	// DefaultContextKey holds the token of the request in Locals.
	DefaultContextKey = "csrf_token"
	// DefaultFieldKey holds the rendered hidden input in Locals.
	DefaultFieldKey = "csrf_field"
	// DefaultFormFieldName is the form field carrying the token.
	DefaultFormFieldName = "_token"
	// DefaultHeaderName is the header carrying the token for scripted posts.
	DefaultHeaderName = "X-CSRF-Token"
	// DefaultSessionKey is the Locals key the token is bound to.
	DefaultSessionKey = "session_id"

	nonceLength = 16
	macLength   = sha256.Size
)

// Config defines the configuration for the CSRF middleware.
type Config struct {
	Skip func(router.Context) bool

	ContextKey    string
	FieldKey      string
	FormFieldName string
	HeaderName    string

	// SessionKey is the Locals key of the identifier tokens are bound to.
	// Requests without it fall back to the client IP.
	SessionKey string

	SafeMethods []string
	Expiration  time.Duration

	// SecureKey signs tokens. It must be at least 32 bytes.
	SecureKey []byte

	ErrorHandler router.ErrorHandler

	Now func() time.Time
}

// New creates the CSRF middleware. Every request gets a fresh token in
// Locals; unsafe methods must send back a token issued for the same session.
func New(config ...Config) router.MiddlewareFunc {
	cfg := configDefault(config...)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return ctx.Next()
			}

			subject := sessionKey(ctx, cfg.SessionKey)

			token, err := issue(cfg, subject, cfg.Now())
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, token)
			ctx.Locals(cfg.FieldKey, hiddenField(cfg.FormFieldName, token))

			if slices.Contains(cfg.SafeMethods, strings.ToUpper(ctx.Method())) {
				return ctx.Next()
			}

			received := ctx.FormValue(cfg.FormFieldName)
			if received == "" {
				received = ctx.GetString(cfg.HeaderName, "")
			}

			if err := verify(cfg, subject, received, cfg.Now()); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			return ctx.Next()
		}
	}
}

// issue builds base64(timestamp | nonce | mac(timestamp | nonce | subject)).
func issue(cfg Config, subject string, now time.Time) (string, error) {
	buf := make([]byte, 8+nonceLength, 8+nonceLength+macLength)
	binary.BigEndian.PutUint64(buf[:8], uint64(now.Unix()))
	if _, err := io.ReadFull(rand.Reader, buf[8:]); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate CSRF nonce")
	}

	buf = append(buf, sign(cfg.SecureKey, buf, subject)...)
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func verify(cfg Config, subject, token string, now time.Time) error {
	if token == "" {
		return ErrTokenMissing
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != 8+nonceLength+macLength {
		return ErrTokenMismatch
	}

	body, mac := raw[:8+nonceLength], raw[8+nonceLength:]
	if !hmac.Equal(mac, sign(cfg.SecureKey, body, subject)) {
		return ErrTokenMismatch
	}

	if cfg.Expiration > 0 {
		issued := time.Unix(int64(binary.BigEndian.Uint64(body[:8])), 0)
		if now.After(issued.Add(cfg.Expiration)) {
			return ErrTokenExpired
		}
	}

	return nil
}

func sign(key, body []byte, subject string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	mac.Write([]byte(subject))
	return mac.Sum(nil)
}

func sessionKey(ctx router.Context, key string) string {
	if id, ok := ctx.Locals(key).(string); ok && id != "" {
		return "session:" + id
	}
	return "ip:" + ctx.IP()
}

func hiddenField(name, token string) string {
	return `<input type="hidden" name="` + name + `" value="` + token + `">`
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.FieldKey == "" {
		cfg.FieldKey = DefaultFieldKey
	}
	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.SessionKey == "" {
		cfg.SessionKey = DefaultSessionKey
	}
	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
	}
	if cfg.Expiration == 0 {
		cfg.Expiration = 12 * time.Hour
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if len(cfg.SecureKey) == 0 {
		cfg.SecureKey = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, cfg.SecureKey); err != nil {
			panic(fmt.Errorf("csrf: unable to initialize secure key: %w", err))
		}
	}
	if len(cfg.SecureKey) < 32 {
		panic(fmt.Errorf("csrf: secure key must be at least 32 bytes, got %d", len(cfg.SecureKey)))
	}

	return cfg
}

func defaultErrorHandler(ctx router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return ctx.Status(router.StatusInternalServerError).SendString("CSRF validation error")
	}
	return ctx.Status(richErr.Code).SendString(richErr.Message)
}
