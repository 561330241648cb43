package popx

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
	"golang.org/x/crypto/hkdf"
)

// Config is the environment configuration of the application.
type Config struct {
	GatewayURL       string        `env:"POPX_GATEWAY_URL"`
	GatewayKey       string        `env:"POPX_GATEWAY_KEY"`
	GatewayTimeout   time.Duration `env:"POPX_GATEWAY_TIMEOUT" envDefault:"0s"`
	Addr             string        `env:"POPX_ADDR" envDefault:":8572"`
	MetricsAddr      string        `env:"POPX_METRICS_ADDR" envDefault:":9090"`
	ProfileTable     string        `env:"POPX_PROFILE_TABLE" envDefault:"User"`
	SessionSecret    string        `env:"POPX_SESSION_SECRET"`
	DatabaseDSN      string        `env:"POPX_DB_DSN" envDefault:"file:popx.db?cache=shared"`
	JWTSecret        string        `env:"POPX_JWT_SECRET"`
	JWKSURL          string        `env:"POPX_JWKS_URL"`
	PhoneRegion      string        `env:"POPX_PHONE_REGION" envDefault:"US"`
	ClientTTL        time.Duration `env:"POPX_CLIENT_TTL" envDefault:"24h"`
	LoadingGrace     time.Duration `env:"POPX_LOADING_GRACE" envDefault:"2s"`
	SessionRetention time.Duration `env:"POPX_SESSION_RETENTION" envDefault:"720h"`
	SecureCookies    bool          `env:"POPX_SECURE_COOKIES" envDefault:"true"`
	Debug            bool          `env:"POPX_DEBUG" envDefault:"false"`

	cookieKey []byte
	csrfKey   []byte
}

// ParseEnv fills target from the process environment.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadConfig reads and validates the configuration. A missing gateway URL
// or key yields ErrMissingConfig.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := ParseEnv(cfg); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "failed to read environment").
			WithTextCode(TextCodeInvalidConfig)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.deriveKeys(rand.Reader); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	var missing []string
	if c.GatewayURL == "" {
		missing = append(missing, "POPX_GATEWAY_URL")
	}
	if c.GatewayKey == "" {
		missing = append(missing, "POPX_GATEWAY_KEY")
	}
	if len(missing) > 0 {
		return ErrMissingConfig.Clone().WithMetadata(map[string]any{
			"missing": missing,
		})
	}

	err := validation.ValidateStruct(c,
		validation.Field(&c.GatewayURL, validation.Required, is.URL),
		validation.Field(&c.JWKSURL, is.URL),
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.ProfileTable, validation.Required),
		validation.Field(&c.DatabaseDSN, validation.Required),
		validation.Field(&c.PhoneRegion, validation.Required, validation.By(validRegion)),
		validation.Field(&c.ClientTTL, validation.Min(time.Minute)),
		validation.Field(&c.LoadingGrace, validation.Min(time.Duration(0))),
		validation.Field(&c.GatewayTimeout, validation.Min(time.Duration(0))),
	)
	if err != nil {
		return ErrInvalidConfig.Clone().WithMetadata(map[string]any{
			"fields": FormatValidationErrorToMap(err),
		})
	}
	return nil
}

func validRegion(value any) error {
	region, _ := value.(string)
	if region == "" {
		return nil
	}
	if phonenumbers.GetCountryCodeForRegion(region) == 0 {
		return fmt.Errorf("unknown phone region %q", region)
	}
	return nil
}

// CookieKey is the key signing client cookies.
func (c *Config) CookieKey() []byte {
	return c.cookieKey
}

// CSRFKey is the key signing CSRF tokens.
func (c *Config) CSRFKey() []byte {
	return c.csrfKey
}

// deriveKeys expands the session secret into independent cookie and CSRF
// keys. Without a secret a random one is drawn from r, so cookies do not
// survive a restart.
func (c *Config) deriveKeys(r io.Reader) error {
	secret := []byte(c.SessionSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := io.ReadFull(r, secret); err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to generate session secret")
		}
	}

	keys := hkdf.New(sha256.New, secret, nil, []byte("popx"))
	c.cookieKey = make([]byte, 32)
	c.csrfKey = make([]byte, 32)
	if _, err := io.ReadFull(keys, c.cookieKey); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to derive cookie key")
	}
	if _, err := io.ReadFull(keys, c.csrfKey); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to derive csrf key")
	}
	return nil
}
