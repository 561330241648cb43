package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

// Operation names reported to the Observer and carried by GatewayError.
const (
	OpSignUp     = "auth.signup"
	OpSignIn     = "auth.sign_in"
	OpRefresh    = "auth.refresh"
	OpGetUser    = "auth.get_user"
	OpSignOut    = "auth.sign_out"
	OpQueryByPK  = "rest.query_by_pk"
	maxBodyBytes = 1 << 20
)

// Config holds the settings used by New.
type Config struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Verifier   *TokenVerifier
	Logger     Logger
	Observer   Observer
}

// Client talks to the gateway REST endpoints. It keeps no per-user state and
// is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	verifier   *TokenVerifier
	logger     Logger
	observer   Observer
	now        func() time.Time
}

// New creates a Client. URL and APIKey are required.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrInvalidConfig.Clone().WithMetadata(map[string]any{
			"url_set": cfg.URL != "",
			"key_set": cfg.APIKey != "",
		})
	}

	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, ErrInvalidConfig.Clone().WithMetadata(map[string]any{"url": cfg.URL})
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = defLogger{}
	}

	return &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		verifier:   cfg.Verifier,
		logger:     logger,
		observer:   cfg.Observer,
		now:        time.Now,
	}, nil
}

type credentials struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

// SignUp creates an identity. The gateway returns a session when email
// confirmation is disabled, otherwise only the user.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*User, *Session, error) {
	var raw json.RawMessage
	body := credentials{Email: email, Password: password, Data: metadata}
	if err := c.do(ctx, OpSignUp, http.MethodPost, "/auth/v1/signup", nil, "", body, &raw); err != nil {
		return nil, nil, err
	}

	var shape struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, nil, wrapGatewayError(ErrInvalidResponse, &GatewayError{Operation: OpSignUp, Err: err})
	}

	if shape.AccessToken != "" {
		session := &Session{}
		if err := json.Unmarshal(raw, session); err != nil {
			return nil, nil, wrapGatewayError(ErrInvalidResponse, &GatewayError{Operation: OpSignUp, Err: err})
		}
		session.normalize(c.now())
		return session.User, session, nil
	}

	user := &User{}
	if err := json.Unmarshal(raw, user); err != nil {
		return nil, nil, wrapGatewayError(ErrInvalidResponse, &GatewayError{Operation: OpSignUp, Err: err})
	}
	return user, nil, nil
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	session := &Session{}
	query := url.Values{"grant_type": {"password"}}
	body := credentials{Email: email, Password: password}
	if err := c.do(ctx, OpSignIn, http.MethodPost, "/auth/v1/token", query, "", body, session); err != nil {
		return nil, err
	}
	return session.normalize(c.now()), nil
}

// RefreshSession exchanges a refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	session := &Session{}
	query := url.Values{"grant_type": {"refresh_token"}}
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, OpRefresh, http.MethodPost, "/auth/v1/token", query, "", body, session); err != nil {
		return nil, err
	}
	return session.normalize(c.now()), nil
}

// GetUser returns the user that owns accessToken.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if accessToken == "" {
		return nil, ErrNoSession.Clone()
	}
	user := &User{}
	if err := c.do(ctx, OpGetUser, http.MethodGet, "/auth/v1/user", nil, accessToken, nil, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SignOut revokes the session that owns accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	return c.do(ctx, OpSignOut, http.MethodPost, "/auth/v1/logout", nil, accessToken, nil, nil)
}

// QueryByPK loads the row of table whose id column equals id into dest.
// accessToken may be empty, in which case the anonymous key is used.
func (c *Client) QueryByPK(ctx context.Context, accessToken, table, id string, dest any) error {
	query := url.Values{
		"id":     {"eq." + id},
		"select": {"*"},
	}
	return c.do(ctx, OpQueryByPK, http.MethodGet, "/rest/v1/"+url.PathEscape(table), query, accessToken, nil, dest)
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, token string, body, dest any) error {
	endpoint := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "encode gateway request").
				WithMetadata(map[string]any{"operation": op})
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "build gateway request").
			WithMetadata(map[string]any{"operation": op})
	}

	bearer := token
	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if op == OpQueryByPK {
		// single object response, PGRST116 when no row matches
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}

	c.logger.Debug("gateway request", "operation", op, "method", method, "path", endpoint.Path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(op, 0, err)
		return wrapGatewayError(ErrUnavailable, &GatewayError{Operation: op, Err: err})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.observe(op, resp.StatusCode, err)
		return wrapGatewayError(ErrUnavailable, &GatewayError{Operation: op, Status: resp.StatusCode, Err: err})
	}

	if resp.StatusCode >= http.StatusBadRequest {
		gerr := parseErrorBody(op, resp.StatusCode, raw)
		out := wrapGatewayError(classify(op, gerr), gerr)
		c.observe(op, resp.StatusCode, out)
		return out
	}

	c.observe(op, resp.StatusCode, nil)

	if dest == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return wrapGatewayError(ErrInvalidResponse, &GatewayError{Operation: op, Status: resp.StatusCode, Err: err})
	}
	return nil
}

func (c *Client) observe(op string, status int, err error) {
	if c.observer != nil {
		c.observer(op, status, err)
	}
	if err != nil {
		c.logger.Debug("gateway call failed", "operation", op, "status", status, "error", err)
	}
}
