package auth_test

import (
	"context"
	"io/fs"
	"testing"

	"github.com/goliatone/go-auth-bridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMigrationsFS(t *testing.T) {
	entries, err := fs.ReadDir(auth.GetMigrationsFS(), auth.MigrationsDir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	assert.Equal(t, []string{
		"0001_create_users.up.sql",
		"0002_create_sessions.up.sql",
		"0003_create_sessions_user_index.up.sql",
	}, names)
}

func TestCreateSchema_Idempotent(t *testing.T) {
	db := setupTestDB(t, "")
	ctx := context.Background()

	require.NoError(t, auth.CreateSchema(ctx, db, ""))

	var count int
	require.NoError(t, db.NewRaw(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'sessions_user_id_expires_at_idx'",
	).Scan(ctx, &count))
	assert.Equal(t, 1, count)
}
