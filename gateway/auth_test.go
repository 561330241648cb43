package gateway

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	event   AuthChangeEvent
	session *Session
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) record(event AuthChangeEvent, session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{event: event, session: session})
}

func (r *eventRecorder) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func sessionHandler(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "password":
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"expires_in":    3600,
			"user":          map[string]any{"id": "user-1", "email": "jane@example.com"},
		})
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "refresh_token":
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access-2",
			"refresh_token": "refresh-2",
			"expires_in":    3600,
			"user":          map[string]any{"id": "user-1", "email": "jane@example.com"},
		})
	case r.URL.Path == "/auth/v1/logout":
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "not found"})
	}
}

func TestAuthSignInEmitsAndUnsubscribeStopsDelivery(t *testing.T) {
	client, _ := newTestClient(t, sessionHandler)
	storage := NewMemoryStorage()
	auth := client.NewAuth("client-1", storage)

	recorder := &eventRecorder{}
	sub := auth.OnAuthStateChange(recorder.record)
	assert.Equal(t, 1, auth.Listeners())

	session, err := auth.SignInWithPassword(context.Background(), "jane@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "access-1", session.AccessToken)

	events := recorder.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventSignedIn, events[0].event)
	assert.Equal(t, "access-1", events[0].session.AccessToken)

	stored, err := storage.Load(context.Background(), "client-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "refresh-1", stored.RefreshToken)

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, auth.Listeners())

	require.NoError(t, auth.SignOut(context.Background()))
	assert.Len(t, recorder.all(), 1)
}

func TestAuthSignOutClearsEvenWhenRemoteFails(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/v1/logout" {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "boom"})
			return
		}
		sessionHandler(w, r)
	})
	storage := NewMemoryStorage()
	auth := client.NewAuth("client-1", storage)

	_, err := auth.SignInWithPassword(context.Background(), "jane@example.com", "secret")
	require.NoError(t, err)

	recorder := &eventRecorder{}
	auth.OnAuthStateChange(recorder.record)

	err = auth.SignOut(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))

	events := recorder.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventSignedOut, events[0].event)
	assert.Nil(t, events[0].session)

	session, err := auth.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)

	stored, err := storage.Load(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestAuthGetSessionRefreshesExpiredToken(t *testing.T) {
	client, _ := newTestClient(t, sessionHandler)
	storage := NewMemoryStorage()
	require.NoError(t, storage.Save(context.Background(), "client-1", &Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Minute).Unix(),
	}))

	auth := client.NewAuth("client-1", storage)
	recorder := &eventRecorder{}
	auth.OnAuthStateChange(recorder.record)

	session, err := auth.GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "access-2", session.AccessToken)

	events := recorder.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventTokenRefreshed, events[0].event)

	stored, err := storage.Load(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", stored.RefreshToken)

	again, err := auth.GetSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", again.AccessToken)
	assert.Len(t, recorder.all(), 1)
}

func TestAuthGetSessionWithoutRefreshTokenSignsOut(t *testing.T) {
	client, _ := newTestClient(t, sessionHandler)
	storage := NewMemoryStorage()
	require.NoError(t, storage.Save(context.Background(), "client-1", &Session{
		AccessToken: "access-1",
		ExpiresAt:   time.Now().Add(-time.Minute).Unix(),
	}))

	auth := client.NewAuth("client-1", storage)
	recorder := &eventRecorder{}
	auth.OnAuthStateChange(recorder.record)

	session, err := auth.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)

	events := recorder.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventSignedOut, events[0].event)
}

func TestAuthGetUserWithoutSession(t *testing.T) {
	client, _ := newTestClient(t, sessionHandler)
	auth := client.NewAuth("client-1", nil)

	user, err := auth.GetUser(context.Background())
	require.Error(t, err)
	assert.Nil(t, user)
	assert.True(t, hasTextCode(err, TextCodeNoSession))
}

func TestAuthQueryByPKUsesSessionToken(t *testing.T) {
	var authorization string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/v1/User" {
			authorization = r.Header.Get("Authorization")
			writeJSON(w, http.StatusOK, map[string]any{"id": "user-1"})
			return
		}
		sessionHandler(w, r)
	})
	auth := client.NewAuth("client-1", nil)

	row := map[string]any{}
	require.NoError(t, auth.QueryByPK(context.Background(), "User", "user-1", &row))
	assert.Equal(t, "Bearer anon-key", authorization)

	_, err := auth.SignInWithPassword(context.Background(), "jane@example.com", "secret")
	require.NoError(t, err)

	require.NoError(t, auth.QueryByPK(context.Background(), "User", "user-1", &row))
	assert.Equal(t, "Bearer access-1", authorization)
}
