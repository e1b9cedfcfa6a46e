package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/codepool/internal/store"
	"github.com/phrazzld/codepool/internal/task"
)

// ConnScopeFactory hands every task its own pooled connection. The task's
// PoolStore runs all of its statements on that connection, and the connection
// is returned to the pool when the scope is closed.
type ConnScopeFactory struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ task.ScopeFactory = (*ConnScopeFactory)(nil)

// NewConnScopeFactory creates a scope factory over db.
func NewConnScopeFactory(db *sql.DB, logger *slog.Logger) *ConnScopeFactory {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ConnScopeFactory{db: db, logger: logger}
}

// NewScope implements task.ScopeFactory.
func (f *ConnScopeFactory) NewScope(ctx context.Context) (task.Scope, error) {
	conn, err := f.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	return &connScope{
		conn:  conn,
		store: NewPostgresPoolStore(conn, f.logger),
	}, nil
}

type connScope struct {
	conn  *sql.Conn
	store *PostgresPoolStore
}

func (s *connScope) Store() store.PoolStore { return s.store }

func (s *connScope) Close() error { return s.conn.Close() }
