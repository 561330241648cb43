package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/popxhq/popx/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupManager(t *testing.T) *Manager {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	mgr, err := Open(dsn)
	require.NoError(t, err)
	require.NoError(t, mgr.Validate())
	t.Cleanup(func() { _ = mgr.Close() })

	applied, err := mgr.Migrate(context.Background(), os.DirFS("../data/sql/migrations"))
	require.NoError(t, err)
	assert.Equal(t, []string{"20261019120000"}, applied)

	return mgr
}

func TestMigrateIsIdempotent(t *testing.T) {
	mgr := setupManager(t)

	applied, err := mgr.Migrate(context.Background(), os.DirFS("../data/sql/migrations"))
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestSessionRepositorySaveLoadDelete(t *testing.T) {
	mgr := setupManager(t)
	repo := mgr.Sessions()
	ctx := context.Background()

	missing, err := repo.Load(ctx, "client-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	expiresAt := time.Now().Add(time.Hour).Unix()
	session := &gateway.Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "bearer",
		ExpiresAt:    expiresAt,
		User: &gateway.User{
			ID:           "8a7c9f7e-2f4c-4f5e-9b1a-1c2d3e4f5a6b",
			Email:        "jane@example.com",
			UserMetadata: map[string]any{"full_name": "Jane Doe"},
		},
	}
	require.NoError(t, repo.Save(ctx, "client-1", session))

	loaded, err := repo.Load(ctx, "client-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "access-1", loaded.AccessToken)
	assert.Equal(t, "refresh-1", loaded.RefreshToken)
	assert.Equal(t, expiresAt, loaded.ExpiresAt)
	require.NotNil(t, loaded.User)
	assert.Equal(t, "jane@example.com", loaded.User.Email)
	assert.Equal(t, "Jane Doe", loaded.User.UserMetadata["full_name"])

	session.AccessToken = "access-2"
	session.User = nil
	require.NoError(t, repo.Save(ctx, "client-1", session))

	loaded, err = repo.Load(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", loaded.AccessToken)
	assert.Nil(t, loaded.User)

	require.NoError(t, repo.Delete(ctx, "client-1"))
	loaded, err = repo.Load(ctx, "client-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	require.NoError(t, repo.Save(ctx, "client-1", &gateway.Session{AccessToken: "access-3"}))
	require.NoError(t, repo.Save(ctx, "client-1", nil))
	loaded, err = repo.Load(ctx, "client-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSessionRepositoryPurgeBefore(t *testing.T) {
	mgr := setupManager(t)
	repo := mgr.Sessions()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "old", &gateway.Session{AccessToken: "a"}))
	_, err := mgr.DB().NewUpdate().
		Model((*StoredSession)(nil)).
		Set("updated_at = ?", time.Now().Add(-48*time.Hour).UTC()).
		Where("client_id = ?", "old").
		Exec(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, "fresh", &gateway.Session{AccessToken: "b"}))

	removed, err := repo.PurgeBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	fresh, err := repo.Load(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, fresh)

	old, err := repo.Load(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, old)
}

func TestGatewayAuthPersistsThroughRepository(t *testing.T) {
	mgr := setupManager(t)

	client, err := gateway.New(gateway.Config{URL: "https://gateway.example.com", APIKey: "anon-key"})
	require.NoError(t, err)

	require.NoError(t, mgr.Sessions().Save(context.Background(), "client-1", &gateway.Session{
		AccessToken: "stored-token",
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
	}))

	auth := client.NewAuth("client-1", mgr.Sessions())
	session, err := auth.GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "stored-token", session.AccessToken)
}
