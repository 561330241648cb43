package popx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

const (
	DefaultClientCookie   = "popx_client"
	DefaultLoadingGrace   = 2 * time.Second
	defaultCookieDuration = 365 * 24 * time.Hour
)

// RouteAuthenticator identifies browser clients and applies the Guard to
// every request.
type RouteAuthenticator struct {
	registry       *ClientRegistry
	guard          *Guard
	cookieName     string
	cookieKey      []byte
	cookieDuration time.Duration
	secureCookies  bool
	loadingGrace   time.Duration
	Logger         Logger
	// PathFunc returns the path the guard evaluates.
	PathFunc         func(router.Context) string
	ErrorHandler     router.ErrorHandler
	AuthErrorHandler router.ErrorHandler
}

type RouteAuthenticatorOption func(*RouteAuthenticator)

func WithCookieKey(key []byte) RouteAuthenticatorOption {
	return func(a *RouteAuthenticator) {
		a.cookieKey = key
	}
}

func WithSecureCookies(secure bool) RouteAuthenticatorOption {
	return func(a *RouteAuthenticator) {
		a.secureCookies = secure
	}
}

// WithLoadingGrace sets how long a request waits for the first
// reconciliation before the loading view is rendered.
func WithLoadingGrace(d time.Duration) RouteAuthenticatorOption {
	return func(a *RouteAuthenticator) {
		a.loadingGrace = d
	}
}

func WithGuard(g *Guard) RouteAuthenticatorOption {
	return func(a *RouteAuthenticator) {
		a.guard = g
	}
}

func WithRouteLogger(l Logger) RouteAuthenticatorOption {
	return func(a *RouteAuthenticator) {
		a.Logger = l
	}
}

func NewRouteAuthenticator(registry *ClientRegistry, opts ...RouteAuthenticatorOption) *RouteAuthenticator {
	a := &RouteAuthenticator{
		registry:       registry,
		guard:          NewGuard(),
		cookieName:     DefaultClientCookie,
		cookieDuration: defaultCookieDuration,
		secureCookies:  true,
		loadingGrace:   DefaultLoadingGrace,
		Logger:         defLogger{},
		PathFunc: func(c router.Context) string {
			return c.Path()
		},
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.registry == nil {
		panic("Missing ClientRegistry in route authenticator...")
	}
	if len(a.cookieKey) == 0 {
		panic("Missing cookie key in route authenticator...")
	}

	a.ErrorHandler = a.defaultErrHandler
	a.AuthErrorHandler = a.defaultAuthErrHandler

	return a
}

// ClientMiddleware resolves the client of the request from its signed
// cookie, issuing a new one when absent or forged.
func (a *RouteAuthenticator) ClientMiddleware() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			id, ok := a.verifyClientID(ctx.Cookies(a.cookieName))
			if !ok {
				id = uuid.NewString()
				a.setClientCookie(ctx, id)
			}

			client, err := a.registry.Acquire(id)
			if err != nil {
				return a.ErrorHandler(ctx, err)
			}

			ctx.Locals(LocalsClientKey, client)
			ctx.Locals(LocalsSessionIDKey, client.ID)
			if s := client.Store.Current(); s != nil {
				ctx.Locals(TemplateUserKey, s)
			}

			return ctx.Next()
		}
	}
}

// GuardMiddleware applies the Guard. Guarded paths that are still loading
// wait up to the loading grace, then render the loading view.
func (a *RouteAuthenticator) GuardMiddleware() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			path := a.PathFunc(ctx)
			if !a.guard.Guards(path) {
				return ctx.Next()
			}

			client, ok := ClientFromRouter(ctx)
			if !ok {
				return a.ErrorHandler(ctx, ErrNoClient)
			}

			snap := a.awaitLoaded(ctx.Context(), client)
			if snap.Loading {
				return ctx.Render(ViewLoading, router.ViewContext{
					"path": path,
				})
			}

			decision := a.guard.Decide(path, snap.Authenticated())
			switch decision.Action {
			case Redirect:
				a.Logger.Debug("guard redirect", "path", path, "location", decision.Location)
				return ctx.Redirect(decision.Location, redirectStatus(ctx))
			default:
				if snap.Session != nil {
					ctx.Locals(TemplateUserKey, snap.Session)
				}
				return ctx.Next()
			}
		}
	}
}

func (a *RouteAuthenticator) awaitLoaded(ctx context.Context, client *Client) Snapshot {
	snap := client.Store.Snapshot()
	if !snap.Loading || a.loadingGrace <= 0 {
		return snap
	}

	wctx, cancel := context.WithTimeout(ctx, a.loadingGrace)
	defer cancel()

	select {
	case <-client.Store.Ready():
	case <-wctx.Done():
	}
	return client.Store.Snapshot()
}

func (a *RouteAuthenticator) setClientCookie(ctx router.Context, id string) {
	ctx.Cookie(&router.Cookie{
		Name:     a.cookieName,
		Value:    a.signClientID(id),
		Path:     "/",
		Expires:  time.Now().Add(a.cookieDuration),
		HTTPOnly: true,
		Secure:   a.secureCookies,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) signClientID(id string) string {
	mac := hmac.New(sha256.New, a.cookieKey)
	mac.Write([]byte(id))
	return id + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (a *RouteAuthenticator) verifyClientID(value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}

	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", false
	}

	mac := hmac.New(sha256.New, a.cookieKey)
	mac.Write([]byte(id))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return "", false
	}
	return id, true
}

func redirectStatus(ctx router.Context) int {
	if ctx.Method() == string(router.GET) {
		return http.StatusFound
	}
	return http.StatusSeeOther
}

func (a *RouteAuthenticator) defaultAuthErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryAuth, "An unexpected authentication error").
			WithCode(errors.CodeUnauthorized)
	}

	a.Logger.Info("authentication error, redirecting to login",
		"error", richErr.Message,
		"text_code", richErr.TextCode,
	)

	return c.Redirect(PathLogin, redirectStatus(c))
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	a.Logger.Error("request failed",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	switch richErr.Category {
	case errors.CategoryAuth:
		return a.AuthErrorHandler(c, richErr)
	default:
		code := richErr.Code
		if code == 0 {
			code = http.StatusInternalServerError
		}
		return c.Status(code).Render(ViewError, router.ViewContext{
			"error": richErr,
		})
	}
}

// CSRFErrorHandler reports rejected form posts through the error handler.
func (a *RouteAuthenticator) CSRFErrorHandler(c router.Context, err error) error {
	a.Logger.Warn("form post rejected", "error", err)
	return a.ErrorHandler(c, ErrCSRFRejected.Clone().WithMetadata(map[string]any{
		"reason": errorMessage(err),
	}))
}

func errorMessage(err error) string {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr.Message
	}
	return err.Error()
}
