package auth_test

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-auth-bridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setupTestDB(t *testing.T, usersTable string) *bun.DB {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	require.NoError(t, auth.CreateSchema(context.Background(), bunDB, usersTable))

	t.Cleanup(func() {
		_ = bunDB.Close()
	})

	return bunDB
}

func setupStore(t *testing.T, opts ...auth.ManagerOption) (*auth.Store, *testClock) {
	t.Helper()

	prev := auth.PasswordCost
	auth.PasswordCost = bcrypt.MinCost
	t.Cleanup(func() { auth.PasswordCost = prev })

	db := setupTestDB(t, "")
	clock := &testClock{now: fixedNow}
	mngr := auth.NewRepositoryManager(db, opts...)
	require.NoError(t, mngr.Validate())

	return auth.NewStoreFromManager(mngr, auth.WithStoreClock(clock.Now)), clock
}

func TestStore_CreateAndFindUser(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	created, err := store.CreateUser(ctx, testIdentity, testSecret)
	require.NoError(t, err)
	assert.Equal(t, testIdentity, created.Email)
	assert.Equal(t, auth.RoleMember, created.Role)
	assert.NotEqual(t, testSecret, created.PasswordHash)

	found, err := store.FindUser(ctx, testIdentity)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.NoError(t, auth.ComparePasswordAndHash(testSecret, found.PasswordHash))
}

func TestStore_FindUserNotFound(t *testing.T) {
	store, _ := setupStore(t)

	user, err := store.FindUser(context.Background(), "missing@loopback.auth0.com")
	require.Error(t, err)
	assert.Nil(t, user)
	assert.True(t, auth.IsUserNotFound(err))
}

func TestStore_CreateUserDuplicate(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	_, err := store.CreateUser(ctx, testIdentity, testSecret)
	require.NoError(t, err)

	_, err = store.CreateUser(ctx, testIdentity, testSecret)
	require.Error(t, err)
	assert.True(t, auth.IsDuplicateIdentity(err))
}

func TestStore_Login(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, testIdentity, testSecret)
	require.NoError(t, err)

	t.Run("rejects a wrong credential", func(t *testing.T) {
		_, err := store.Login(ctx, testIdentity, "not-the-secret", time.Hour)
		require.Error(t, err)

		richErr := requireRichError(t, err)
		assert.Equal(t, auth.TextCodeInvalidCredentials, richErr.TextCode)
	})

	t.Run("rejects a non positive ttl", func(t *testing.T) {
		_, err := store.Login(ctx, testIdentity, testSecret, 0)
		require.Error(t, err)
		assert.True(t, auth.IsInvalidTTL(err))
	})

	t.Run("mints a session", func(t *testing.T) {
		session, err := store.Login(ctx, testIdentity, testSecret, time.Hour)
		require.NoError(t, err)

		assert.Len(t, session.ID, auth.SessionTokenBytes*2)
		assert.Equal(t, user.ID, session.UserID)
		assert.Equal(t, int64(3600), session.TTL)
		assert.True(t, fixedNow.Add(time.Hour).Equal(session.ExpiresAt))

		count, err := store.CountSessions(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestStore_FindOneSessionIsEarliest(t *testing.T) {
	store, clock := setupStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, testIdentity, testSecret)
	require.NoError(t, err)

	first, err := store.Login(ctx, testIdentity, testSecret, 2*time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = store.Login(ctx, testIdentity, testSecret, 2*time.Hour)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		session, err := store.FindOneSession(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, first.ID, session.ID)
	}

	withSessions, err := store.FindUser(ctx, testIdentity, auth.WithSessions())
	require.NoError(t, err)
	require.Len(t, withSessions.Sessions, 2)
	assert.Equal(t, first.ID, withSessions.Sessions[0].ID)
}

func TestStore_ExpiredSessionsAreNotLive(t *testing.T) {
	store, clock := setupStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, testIdentity, testSecret)
	require.NoError(t, err)

	_, err = store.Login(ctx, testIdentity, testSecret, time.Minute)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	count, err := store.CountSessions(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = store.FindOneSession(ctx, user)
	assert.True(t, auth.IsSessionNotFound(err))

	purged, err := store.PurgeExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
}

func TestStore_DeleteSession(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, testIdentity, testSecret)
	require.NoError(t, err)
	session, err := store.Login(ctx, testIdentity, testSecret, time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.DeleteSession(ctx, session.ID))

	count, err := store.CountSessions(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, count)

	err = store.DeleteSession(ctx, session.ID)
	require.Error(t, err)
	assert.True(t, auth.IsSessionNotFound(err))

	_, err = store.FindUser(ctx, testIdentity)
	assert.NoError(t, err, "logout leaves the user in place")
}

func TestStore_CustomUsersTable(t *testing.T) {
	prev := auth.PasswordCost
	auth.PasswordCost = bcrypt.MinCost
	t.Cleanup(func() { auth.PasswordCost = prev })

	db := setupTestDB(t, "accounts")
	store := auth.NewStoreFromManager(auth.NewRepositoryManager(db, auth.WithManagerUsersTable("accounts")))
	ctx := context.Background()

	_, err := store.CreateUser(ctx, "jdoe", "jdoe")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.NewRaw("SELECT COUNT(*) FROM accounts").Scan(ctx, &count))
	assert.Equal(t, 1, count)

	found, err := store.FindUser(ctx, "jdoe")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", found.Email)
}

func TestStore_ReconcilerRoundTrip(t *testing.T) {
	store, _ := setupStore(t)
	reconciler := newTestReconciler(store)
	claim := newTestClaim(fixedNow.Add(time.Hour))
	ctx := context.Background()

	first, err := reconciler.Resolve(ctx, claim)
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeProvisioned, first.Outcome)
	assert.Equal(t, int64(3600), first.Session.TTL)

	second, err := reconciler.Resolve(ctx, claim)
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeReused, second.Outcome)
	assert.Equal(t, first.Session.ID, second.Session.ID)

	require.NoError(t, reconciler.Logout(ctx, second.Session))

	third, err := reconciler.Resolve(ctx, claim)
	require.NoError(t, err)
	assert.Equal(t, auth.StateUserNoSession, third.State)
	assert.NotEqual(t, first.Session.ID, third.Session.ID)
}

func TestStore_IdentitiesMatchExactly(t *testing.T) {
	store, _ := setupStore(t)
	reconciler := auth.NewSessionReconciler(store,
		auth.DirectAttributeMapper{Attribute: "username"},
		auth.WithClock(fixedClock),
	)
	ctx := context.Background()

	claimFor := func(username string) *auth.Claim {
		return &auth.Claim{
			Subject:    "auth0|" + username,
			ExpiresAt:  fixedNow.Add(time.Hour),
			Attributes: map[string]any{"username": username},
		}
	}

	alice, err := reconciler.Resolve(ctx, claimFor("alice"))
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeProvisioned, alice.Outcome)

	padded, err := reconciler.Resolve(ctx, claimFor(" alice"))
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeProvisioned, padded.Outcome)
	assert.NotEqual(t, alice.User.ID, padded.User.ID)
	assert.NotEqual(t, alice.Session.ID, padded.Session.ID)
	assert.Equal(t, " alice", padded.User.Email)

	bob, err := reconciler.Resolve(ctx, claimFor(" bob"))
	require.NoError(t, err, "an identity with surrounding spaces can log in")
	assert.Equal(t, auth.OutcomeProvisioned, bob.Outcome)

	again, err := reconciler.Resolve(ctx, claimFor(" bob"))
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeReused, again.Outcome)
	assert.Equal(t, bob.Session.ID, again.Session.ID)

	_, err = store.FindUser(ctx, "bob")
	assert.True(t, auth.IsUserNotFound(err))
}

func TestStore_LongDirectAttribute(t *testing.T) {
	store, _ := setupStore(t)
	reconciler := auth.NewSessionReconciler(store,
		auth.DirectAttributeMapper{Attribute: "email"},
		auth.WithClock(fixedClock),
	)
	email := strings.Repeat("x", 70) + "@example.com"

	res, err := reconciler.Resolve(context.Background(), &auth.Claim{
		Subject:    "auth0|long",
		ExpiresAt:  fixedNow.Add(time.Hour),
		Attributes: map[string]any{"email": email},
	})
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeProvisioned, res.Outcome)
	assert.Equal(t, email, res.User.Email)
}

type failingSessions struct {
	auth.Sessions
}

func (failingSessions) Create(context.Context, *auth.Session) (*auth.Session, error) {
	return nil, errors.New("session backend unavailable")
}

func TestStore_LoginIsTransactional(t *testing.T) {
	prev := auth.PasswordCost
	auth.PasswordCost = bcrypt.MinCost
	t.Cleanup(func() { auth.PasswordCost = prev })

	db := setupTestDB(t, "")
	mngr := auth.NewRepositoryManager(db)
	ctx := context.Background()

	t.Run("tracks the login", func(t *testing.T) {
		store := auth.NewStoreFromManager(mngr)
		_, err := store.CreateUser(ctx, "tracked", "tracked")
		require.NoError(t, err)

		_, err = store.Login(ctx, "tracked", "tracked", time.Hour)
		require.NoError(t, err)

		user, err := store.FindUser(ctx, "tracked")
		require.NoError(t, err)
		assert.NotNil(t, user.LoggedInAt)
	})

	t.Run("rolls back when the session insert fails", func(t *testing.T) {
		store := auth.NewStore(mngr.Users(), failingSessions{Sessions: mngr.Sessions()},
			auth.WithStoreTransactions(mngr),
		)
		_, err := store.CreateUser(ctx, "untracked", "untracked")
		require.NoError(t, err)

		_, err = store.Login(ctx, "untracked", "untracked", time.Hour)
		require.Error(t, err)

		user, err := store.FindUser(ctx, "untracked")
		require.NoError(t, err)
		assert.Nil(t, user.LoggedInAt)
	})

	t.Run("without transactions", func(t *testing.T) {
		store := auth.NewStore(mngr.Users(), mngr.Sessions())
		_, err := store.CreateUser(ctx, "plain", "plain")
		require.NoError(t, err)

		session, err := store.Login(ctx, "plain", "plain", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(3600), session.TTL)
	})
}
