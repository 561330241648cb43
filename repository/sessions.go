package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/popxhq/popx/gateway"
	"github.com/uptrace/bun"
)

// StoredSession is the Bun model for persisted gateway sessions, one row per
// browser client.
type StoredSession struct {
	bun.BaseModel `bun:"table:auth_sessions"`

	ClientID     string         `bun:"client_id,pk"`
	AccessToken  string         `bun:"access_token,notnull"`
	RefreshToken string         `bun:"refresh_token"`
	TokenType    string         `bun:"token_type"`
	ExpiresAt    int64          `bun:"expires_at"`
	UserData     map[string]any `bun:"user_data,type:jsonb"`
	CreatedAt    time.Time      `bun:"created_at,default:current_timestamp"`
	UpdatedAt    time.Time      `bun:"updated_at,default:current_timestamp"`
}

// SessionRepository implements gateway.SessionStorage using Bun.
type SessionRepository struct {
	db bun.IDB
}

// NewSessionRepository creates a new repository.
func NewSessionRepository(db bun.IDB) *SessionRepository {
	return &SessionRepository{db: db}
}

var _ gateway.SessionStorage = (*SessionRepository)(nil)

// Load implements gateway.SessionStorage.
func (r *SessionRepository) Load(ctx context.Context, key string) (*gateway.Session, error) {
	var model StoredSession
	err := r.db.NewSelect().
		Model(&model).
		Where("client_id = ?", key).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return toSession(&model)
}

// Save implements gateway.SessionStorage.
func (r *SessionRepository) Save(ctx context.Context, key string, session *gateway.Session) error {
	if session == nil {
		return r.Delete(ctx, key)
	}

	model, err := fromSession(key, session)
	if err != nil {
		return err
	}
	model.UpdatedAt = time.Now().UTC()

	_, err = r.db.NewInsert().
		Model(model).
		On("CONFLICT (client_id) DO UPDATE").
		Set("access_token = EXCLUDED.access_token").
		Set("refresh_token = EXCLUDED.refresh_token").
		Set("token_type = EXCLUDED.token_type").
		Set("expires_at = EXCLUDED.expires_at").
		Set("user_data = EXCLUDED.user_data").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)

	return err
}

// Delete implements gateway.SessionStorage.
func (r *SessionRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.NewDelete().
		Model((*StoredSession)(nil)).
		Where("client_id = ?", key).
		Exec(ctx)
	return err
}

// PurgeBefore removes sessions not written since before and returns how many
// rows were removed.
func (r *SessionRepository) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*StoredSession)(nil)).
		Where("updated_at < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func toSession(m *StoredSession) (*gateway.Session, error) {
	session := &gateway.Session{
		AccessToken:  m.AccessToken,
		RefreshToken: m.RefreshToken,
		TokenType:    m.TokenType,
		ExpiresAt:    m.ExpiresAt,
	}

	if len(m.UserData) == 0 {
		return session, nil
	}

	raw, err := json.Marshal(m.UserData)
	if err != nil {
		return nil, err
	}
	user := &gateway.User{}
	if err := json.Unmarshal(raw, user); err != nil {
		return nil, err
	}
	session.User = user
	return session, nil
}

func fromSession(key string, s *gateway.Session) (*StoredSession, error) {
	model := &StoredSession{
		ClientID:     key,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresAt:    s.ExpiresAt,
		UserData:     map[string]any{},
	}

	if s.User == nil {
		return model, nil
	}

	raw, err := json.Marshal(s.User)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &model.UserData); err != nil {
		return nil, err
	}
	return model, nil
}
