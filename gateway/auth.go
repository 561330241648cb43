package gateway

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

type listener struct {
	id uint64
	fn AuthChangeFunc
}

// Auth holds the gateway session of one browser client.
type Auth struct {
	client  *Client
	key     string
	storage SessionStorage

	refreshMu sync.Mutex

	mu        sync.Mutex
	session   *Session
	loaded    bool
	listeners []listener
	nextID    uint64
}

// NewAuth returns the session holder stored under key. A nil storage keeps
// the session in memory only.
func (c *Client) NewAuth(key string, storage SessionStorage) *Auth {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	return &Auth{
		client:  c,
		key:     key,
		storage: storage,
	}
}

// Key returns the storage key of this holder.
func (a *Auth) Key() string {
	return a.key
}

// GetSession returns the current session, refreshing it when the access
// token has expired. It returns nil, nil when signed out.
func (a *Auth) GetSession(ctx context.Context) (*Session, error) {
	session, err := a.load(ctx)
	if err != nil || session == nil {
		return nil, err
	}

	if !session.Expired(a.client.now()) {
		return session, nil
	}

	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	// another request may have refreshed while we waited
	session, err = a.load(ctx)
	if err != nil || session == nil {
		return nil, err
	}
	if !session.Expired(a.client.now()) {
		return session, nil
	}

	if session.RefreshToken == "" {
		a.setSession(ctx, nil, EventSignedOut)
		return nil, nil
	}

	refreshed, err := a.client.RefreshSession(ctx, session.RefreshToken)
	if err != nil {
		if IsAuthFailed(err) {
			a.setSession(ctx, nil, EventSignedOut)
		}
		return nil, err
	}

	a.setSession(ctx, refreshed, EventTokenRefreshed)
	return refreshed, nil
}

// GetUser fetches the user that owns the current session.
func (a *Auth) GetUser(ctx context.Context) (*User, error) {
	session, err := a.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNoSession.Clone()
	}
	return a.client.GetUser(ctx, session.AccessToken)
}

// SignUp registers a new identity. When the gateway returns a session the
// holder is signed in and SIGNED_IN is emitted.
func (a *Auth) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*User, *Session, error) {
	user, session, err := a.client.SignUp(ctx, email, password, metadata)
	if err != nil {
		return nil, nil, err
	}
	if session != nil {
		a.setSession(ctx, session, EventSignedIn)
	}
	return user, session, nil
}

// SignInWithPassword signs the holder in and emits SIGNED_IN.
func (a *Auth) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	session, err := a.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	a.setSession(ctx, session, EventSignedIn)
	return session, nil
}

// SignOut revokes the remote session and always clears the local one,
// emitting SIGNED_OUT. The remote error, if any, is returned.
func (a *Auth) SignOut(ctx context.Context) error {
	session, err := a.load(ctx)

	if session != nil {
		err = a.client.SignOut(ctx, session.AccessToken)
	}

	a.setSession(ctx, nil, EventSignedOut)
	return err
}

// QueryByPK reads one row of table as the current user, or anonymously when
// signed out.
func (a *Auth) QueryByPK(ctx context.Context, table, id string, dest any) error {
	token := ""
	if session, err := a.GetSession(ctx); err == nil && session != nil {
		token = session.AccessToken
	}
	return a.client.QueryByPK(ctx, token, table, id, dest)
}

// OnAuthStateChange registers fn for auth state changes. Callbacks run on
// the goroutine that changed the state, outside of any lock.
func (a *Auth) OnAuthStateChange(fn AuthChangeFunc) *Subscription {
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	a.listeners = append(a.listeners, listener{id: id, fn: fn})
	a.mu.Unlock()

	return NewSubscription(func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, l := range a.listeners {
			if l.id == id {
				a.listeners = append(a.listeners[:i], a.listeners[i+1:]...)
				return
			}
		}
	})
}

// Listeners returns the number of registered listeners.
func (a *Auth) Listeners() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.listeners)
}

func (a *Auth) load(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.loaded {
		return a.session, nil
	}

	session, err := a.storage.Load(ctx, a.key)
	if err != nil {
		return nil, err
	}

	if session != nil {
		if err := a.client.checkToken(session); err != nil {
			a.client.logger.Warn("discarding stored session", "key", a.key, "error", err)
			if derr := a.storage.Delete(ctx, a.key); derr != nil {
				a.client.logger.Error("failed to delete stored session", "key", a.key, "error", derr)
			}
			session = nil
		}
	}

	a.session = session
	a.loaded = true
	return session, nil
}

func (a *Auth) setSession(ctx context.Context, session *Session, event AuthChangeEvent) {
	a.mu.Lock()
	a.session = session
	a.loaded = true
	listeners := make([]AuthChangeFunc, 0, len(a.listeners))
	for _, l := range a.listeners {
		listeners = append(listeners, l.fn)
	}
	a.mu.Unlock()

	var err error
	if session == nil {
		err = a.storage.Delete(ctx, a.key)
	} else {
		err = a.storage.Save(ctx, a.key, session)
	}
	if err != nil {
		a.client.logger.Error("failed to persist session", "key", a.key, "event", event, "error", err)
	}

	for _, fn := range listeners {
		fn(event, session)
	}
}

// checkToken verifies a stored access token and fills in a missing expiry
// from its claims.
func (c *Client) checkToken(session *Session) error {
	if c.verifier == nil {
		return nil
	}

	claims, err := c.verifier.Parse(session.AccessToken)
	if err != nil && !stderrors.Is(err, jwt.ErrTokenExpired) {
		if c.verifier.Verifying() {
			return err
		}
		return nil
	}

	if session.ExpiresAt == 0 && claims != nil && claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return nil
}
