package popx

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/popxhq/popx/gateway"
)

const testUserID = "6f1c9c2e-52c3-4ef4-9b1d-3d1f9a0f7b21"

func testUser() *gateway.User {
	created := time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC)
	return &gateway.User{
		ID:        testUserID,
		Email:     "marry@example.com",
		CreatedAt: &created,
		UserMetadata: map[string]any{
			MetaFullName:    "Marry Doe",
			MetaPhoneNumber: "+14155550100",
			MetaIsAgency:    true,
		},
	}
}

func testGatewaySession() *gateway.Session {
	return &gateway.Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "bearer",
		ExpiresIn:    3600,
		User:         testUser(),
	}
}

// fakeGateway is an in memory AuthGateway that emits notifications like
// gateway.Auth does.
type fakeGateway struct {
	mu        sync.Mutex
	session   *gateway.Session
	user      *gateway.User
	profile   map[string]any
	listeners map[int]gateway.AuthChangeFunc
	nextID    int
	calls     map[string]int

	sessionErr error
	userErr    error
	profileErr error
	signInErr  error
	signUpErr  error
	signOutErr error
	// noSessionOnSignUp mimics a gateway that requires email confirmation.
	noSessionOnSignUp bool

	lastMetadata map[string]any
	queryTable   string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		user:      testUser(),
		listeners: map[int]gateway.AuthChangeFunc{},
		calls:     map[string]int{},
	}
}

func (f *fakeGateway) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeGateway) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeGateway) GetSession(ctx context.Context) (*gateway.Session, error) {
	f.count("GetSession")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return f.session, nil
}

func (f *fakeGateway) GetUser(ctx context.Context) (*gateway.User, error) {
	f.count("GetUser")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return nil, f.userErr
	}
	if f.session == nil {
		return nil, gateway.ErrNoSession
	}
	return f.user, nil
}

func (f *fakeGateway) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*gateway.User, *gateway.Session, error) {
	f.count("SignUp")
	f.mu.Lock()
	f.lastMetadata = metadata
	if f.signUpErr != nil {
		f.mu.Unlock()
		return nil, nil, f.signUpErr
	}
	user := testUser()
	user.Email = email
	user.UserMetadata = metadata
	f.user = user
	if f.noSessionOnSignUp {
		f.mu.Unlock()
		return user, nil, nil
	}
	session := testGatewaySession()
	session.User = user
	f.session = session
	f.mu.Unlock()

	f.emit(gateway.EventSignedIn, session)
	return user, session, nil
}

func (f *fakeGateway) SignInWithPassword(ctx context.Context, email, password string) (*gateway.Session, error) {
	f.count("SignInWithPassword")
	f.mu.Lock()
	if f.signInErr != nil {
		f.mu.Unlock()
		return nil, f.signInErr
	}
	session := testGatewaySession()
	session.User = f.user
	f.session = session
	f.mu.Unlock()

	f.emit(gateway.EventSignedIn, session)
	return session, nil
}

func (f *fakeGateway) SignOut(ctx context.Context) error {
	f.count("SignOut")
	f.mu.Lock()
	f.session = nil
	err := f.signOutErr
	f.mu.Unlock()

	f.emit(gateway.EventSignedOut, nil)
	return err
}

func (f *fakeGateway) QueryByPK(ctx context.Context, table, id string, dest any) error {
	f.count("QueryByPK")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryTable = table
	if f.profileErr != nil {
		return f.profileErr
	}
	if f.profile == nil {
		return gateway.ErrRecordNotFound.Clone()
	}
	if m, ok := dest.(*map[string]any); ok {
		*m = maps.Clone(f.profile)
	}
	return nil
}

func (f *fakeGateway) OnAuthStateChange(fn gateway.AuthChangeFunc) *gateway.Subscription {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = fn
	f.mu.Unlock()

	return gateway.NewSubscription(func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	})
}

func (f *fakeGateway) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// emit notifies listeners outside the lock.
func (f *fakeGateway) emit(event gateway.AuthChangeEvent, session *gateway.Session) {
	f.mu.Lock()
	fns := make([]gateway.AuthChangeFunc, 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(event, session)
	}
}

// setSession replaces the session without emitting.
func (f *fakeGateway) setSession(session *gateway.Session) {
	f.mu.Lock()
	f.session = session
	f.mu.Unlock()
}

var _ AuthGateway = (*fakeGateway)(nil)

func waitCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}
