package repository

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/migrate"
)

// Manager owns the database handle and the repositories built on it.
type Manager struct {
	db       *bun.DB
	sessions *SessionRepository
}

// Open connects to the sqlite database at dsn.
func Open(dsn string) (*Manager, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers, a single connection avoids SQLITE_BUSY
	sqldb.SetMaxOpenConns(1)

	return NewManager(bun.NewDB(sqldb, sqlitedialect.New())), nil
}

// NewManager wraps an existing Bun handle.
func NewManager(db *bun.DB) *Manager {
	return &Manager{
		db:       db,
		sessions: NewSessionRepository(db),
	}
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}
	if m.sessions == nil {
		return errors.New("repository sessions should be initialized")
	}
	return nil
}

func (m *Manager) DB() *bun.DB {
	return m.db
}

func (m *Manager) Sessions() *SessionRepository {
	return m.sessions
}

func (m *Manager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

// Migrate applies the pending *.up.sql files found at the root of fsys and
// returns the names of the applied migrations.
func (m *Manager) Migrate(ctx context.Context, fsys fs.FS) ([]string, error) {
	migrations := migrate.NewMigrations()
	if err := migrations.Discover(fsys); err != nil {
		return nil, err
	}

	migrator := migrate.NewMigrator(m.db, migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, err
	}

	if err := migrator.Lock(ctx); err != nil {
		return nil, err
	}
	defer migrator.Unlock(ctx) //nolint:errcheck

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0, len(group.Migrations))
	for _, migration := range group.Migrations {
		applied = append(applied, migration.Name)
	}
	return applied, nil
}

func (m *Manager) Close() error {
	return m.db.Close()
}
