package auth

import (
	"context"
	"io/fs"
	"path"
	"strings"

	"github.com/uptrace/bun"
)

// CreateSchema applies the embedded up migrations in file name order. A
// migration's ? placeholder is the users table; an empty usersTable uses
// DefaultUsersTable.
func CreateSchema(ctx context.Context, db bun.IDB, usersTable string) error {
	if usersTable = strings.TrimSpace(usersTable); usersTable == "" {
		usersTable = DefaultUsersTable
	}

	entries, err := fs.ReadDir(migrationsFS, MigrationsDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}

		raw, err := fs.ReadFile(migrationsFS, path.Join(MigrationsDir, entry.Name()))
		if err != nil {
			return err
		}

		stmt := string(raw)
		var args []any
		if strings.Contains(stmt, "?") {
			args = append(args, bun.Ident(usersTable))
		}

		if _, err := db.ExecContext(ctx, stmt, args...); err != nil {
			return WrapError(ErrStore, err, map[string]any{
				"operation": "create_schema",
				"migration": entry.Name(),
			})
		}
	}

	return nil
}
