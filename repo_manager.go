package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
)

// TransactionManager runs f inside a database transaction
type TransactionManager interface {
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
}

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	TransactionManager
	Validate() error
	Users() Users
	Sessions() Sessions
}

// ManagerOption configures a RepositoryManager
type ManagerOption func(*mngr)

// WithManagerUsersTable sets the table the users repository reads and writes
func WithManagerUsersTable(table string) ManagerOption {
	return func(m *mngr) {
		m.usersTable = table
	}
}

// WithSessionsRepository replaces the SQL sessions repository, e.g. with a
// redis backed one
func WithSessionsRepository(s Sessions) ManagerOption {
	return func(m *mngr) {
		if s != nil {
			m.sessions = s
		}
	}
}

type mngr struct {
	db         *bun.DB
	usersTable string
	users      Users
	sessions   Sessions
}

func NewRepositoryManager(db *bun.DB, opts ...ManagerOption) RepositoryManager {
	m := &mngr{db: db}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	m.users = NewUsersRepository(db, WithUsersTable(m.usersTable))
	if m.sessions == nil {
		m.sessions = NewSessionsRepository(db)
	}
	return m
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository manager requires a database")
	}

	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.sessions == nil {
		return errors.New("repository sessions should be initialized")
	}

	return nil
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Sessions() Sessions {
	return m.sessions
}
