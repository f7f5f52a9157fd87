package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultUsersTable is the table backing the User model
const DefaultUsersTable = "users"

// Users is the users repository
type Users interface {
	GetByIdentity(ctx context.Context, identity string) (*User, error)
	GetByIdentityTx(ctx context.Context, tx bun.IDB, identity string) (*User, error)
	Create(ctx context.Context, record *User) (*User, error)
	TrackSucccessfulLogin(ctx context.Context, user *User) error
	TrackSucccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error
}

type users struct {
	db    *bun.DB
	table string
}

var _ Users = (*users)(nil)

// UsersOption configures the users repository
type UsersOption func(*users)

// WithUsersTable overrides the users table name
func WithUsersTable(table string) UsersOption {
	return func(u *users) {
		if table = strings.TrimSpace(table); table != "" {
			u.table = table
		}
	}
}

// NewUsersRepository returns a bun backed Users repository
func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := &users{
		db:    db,
		table: DefaultUsersTable,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo
}

func (a *users) GetByIdentity(ctx context.Context, identity string) (*User, error) {
	return a.GetByIdentityTx(ctx, a.db, identity)
}

// GetByIdentityTx matches identity exactly. Identities are compared as the
// mapper produced them so distinct values never share a user.
func (a *users) GetByIdentityTx(ctx context.Context, tx bun.IDB, identity string) (*User, error) {
	if identity == "" {
		return nil, WrapError(ErrUserNotFound, nil, map[string]any{"identity": identity})
	}

	record := &User{}
	err := tx.NewSelect().
		Model(record).
		ModelTableExpr("? AS usr", bun.Ident(a.table)).
		Where("usr.email = ?", identity).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, WrapError(ErrUserNotFound, err, map[string]any{"identity": identity})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) Create(ctx context.Context, record *User) (*User, error) {
	prepareUserDefaults(record)

	_, err := a.db.NewInsert().
		Model(record).
		ModelTableExpr("?", bun.Ident(a.table)).
		Exec(ctx)
	if err != nil {
		if IsDuplicateIdentity(err) {
			return nil, WrapError(ErrDuplicateIdentity, err, map[string]any{"identity": record.Email})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) TrackSucccessfulLogin(ctx context.Context, user *User) error {
	return a.TrackSucccessfulLoginTx(ctx, a.db, user)
}

func (a *users) TrackSucccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error {
	loggedInAt := time.Now().UTC()
	_, err := tx.NewRaw(
		`UPDATE ? SET "loggedin_at" = ?, "updated_at" = ? WHERE "id" = ?`,
		bun.Ident(a.table), loggedInAt, loggedInAt, user.ID,
	).Exec(ctx)
	return err
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.Role == "" {
		record.Role = RoleMember
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	now := time.Now().UTC()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	if record.UpdatedAt == nil {
		record.UpdatedAt = &now
	}
}

func isRecordNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}
