package bridgeware_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-auth-bridge"
	"github.com/goliatone/go-auth-bridge/middleware/bridgeware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

const testSubject = "auth0|abc123"

type response struct {
	status int
	body   map[string]any
}

func stubVerifier() auth.Verifier {
	return auth.VerifierFunc(func(ctx context.Context, rawToken string) (*auth.Claim, error) {
		switch rawToken {
		case "good":
			return &auth.Claim{
				Subject:   testSubject,
				Issuer:    "https://tenant.auth0.com/",
				Audience:  []string{"https://api.test"},
				ExpiresAt: time.Now().Add(time.Hour),
			}, nil
		case "stale":
			return &auth.Claim{
				Subject:   testSubject,
				ExpiresAt: time.Now().Add(-time.Minute),
			}, nil
		case "keys-down":
			return nil, auth.ErrKeyRetrievalFailed
		}
		return nil, auth.ErrSignatureInvalid
	})
}

func newResolver(t *testing.T) auth.SessionResolver {
	t.Helper()

	prev := auth.PasswordCost
	auth.PasswordCost = bcrypt.MinCost
	t.Cleanup(func() { auth.PasswordCost = prev })

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, auth.CreateSchema(context.Background(), db, ""))

	store := auth.NewStoreFromManager(auth.NewRepositoryManager(db))
	return auth.NewSessionReconciler(store, auth.DerivedEmailMapper{SharedSecret: "shared"})
}

func newApp(cfg bridgeware.Config) *fiber.App {
	app := fiber.New()

	api := app.Group("/api", bridgeware.New(cfg)...)
	api.Get("/me", func(c *fiber.Ctx) error {
		session, ok := auth.SessionFromContext(c.UserContext())
		if !ok {
			return c.SendStatus(fiber.StatusTeapot)
		}
		user := c.Locals(bridgeware.DefaultUserKey).(*auth.User)
		claim, _ := auth.ClaimFromContext(c.UserContext())
		return c.JSON(fiber.Map{
			"session": session.ID,
			"user":    user.Email,
			"subject": claim.Subject,
		})
	})
	api.Post("/logout", bridgeware.Logout(cfg))

	return app
}

func do(t *testing.T, app *fiber.App, method, target, token string) response {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := response{status: resp.StatusCode, body: map[string]any{}}
	if resp.ContentLength != 0 && resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out.body)
	}
	return out
}

func TestBridgeware_ProvisionsThenReuses(t *testing.T) {
	app := newApp(bridgeware.Config{
		Verifier: stubVerifier(),
		Resolver: newResolver(t),
	})

	first := do(t, app, http.MethodGet, "/api/me", "good")
	require.Equal(t, http.StatusOK, first.status)
	assert.Equal(t, testSubject+"@loopback.auth0.com", first.body["user"])
	assert.Equal(t, testSubject, first.body["subject"])
	assert.NotEmpty(t, first.body["session"])

	second := do(t, app, http.MethodGet, "/api/me", "good")
	require.Equal(t, http.StatusOK, second.status)
	assert.Equal(t, first.body["session"], second.body["session"])
}

func TestBridgeware_Rejections(t *testing.T) {
	app := newApp(bridgeware.Config{
		Verifier: stubVerifier(),
		Resolver: newResolver(t),
	})

	tests := []struct {
		name   string
		token  string
		status int
		code   string
	}{
		{name: "missing token", token: "", status: http.StatusUnauthorized, code: auth.TextCodeTokenMalformed},
		{name: "bad signature", token: "forged", status: http.StatusUnauthorized, code: auth.TextCodeSignatureInvalid},
		{name: "key set unavailable", token: "keys-down", status: http.StatusUnauthorized, code: auth.TextCodeKeyRetrievalFailed},
		{name: "expired claim", token: "stale", status: http.StatusUnauthorized, code: auth.TextCodeInvalidTTL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := do(t, app, http.MethodGet, "/api/me", tt.token)
			assert.Equal(t, tt.status, res.status)
			assert.Equal(t, tt.code, res.body["error"])
		})
	}
}

type failingResolver struct {
	err error
}

func (r failingResolver) Resolve(ctx context.Context, claim *auth.Claim) (*auth.Resolution, error) {
	return nil, r.err
}

func (r failingResolver) Logout(ctx context.Context, session *auth.Session) error {
	return r.err
}

func TestBridgeware_StoreFailureIsServerError(t *testing.T) {
	app := newApp(bridgeware.Config{
		Verifier: stubVerifier(),
		Resolver: failingResolver{err: auth.WrapError(auth.ErrStore, errors.New("database is locked"), nil)},
	})

	res := do(t, app, http.MethodGet, "/api/me", "good")
	assert.Equal(t, http.StatusInternalServerError, res.status)
	assert.Equal(t, auth.TextCodeStoreError, res.body["error"])
	assert.Equal(t, "Internal server error", res.body["message"])
}

func TestBridgeware_Logout(t *testing.T) {
	app := newApp(bridgeware.Config{
		Verifier: stubVerifier(),
		Resolver: newResolver(t),
	})

	first := do(t, app, http.MethodGet, "/api/me", "good")
	require.Equal(t, http.StatusOK, first.status)

	logout := do(t, app, http.MethodPost, "/api/logout", "good")
	assert.Equal(t, http.StatusNoContent, logout.status)

	again := do(t, app, http.MethodGet, "/api/me", "good")
	require.Equal(t, http.StatusOK, again.status)
	assert.NotEqual(t, first.body["session"], again.body["session"])
	assert.Equal(t, first.body["user"], again.body["user"])
}

func TestBridgeware_LogoutWithoutSession(t *testing.T) {
	app := fiber.New()
	app.Post("/logout", bridgeware.Logout(bridgeware.Config{Resolver: newResolver(t)}))

	res := do(t, app, http.MethodPost, "/logout", "")
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, auth.TextCodeSessionNotFound, res.body["error"])
}

func TestBridgeware_CustomTokenLookup(t *testing.T) {
	app := newApp(bridgeware.Config{
		Verifier:    stubVerifier(),
		Resolver:    newResolver(t),
		TokenLookup: "header:X-Access-Token,query:access_token",
		AuthScheme:  "Token",
	})

	res := do(t, app, http.MethodGet, "/api/me?access_token=good", "")
	assert.Equal(t, http.StatusOK, res.status)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("X-Access-Token", "Token good")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	res = do(t, app, http.MethodGet, "/api/me", "good")
	assert.Equal(t, http.StatusUnauthorized, res.status, "Authorization is not part of the lookup")
}

func TestBridgeware_FilterAndListeners(t *testing.T) {
	var seen []string
	app := newApp(bridgeware.Config{
		Verifier: stubVerifier(),
		Resolver: newResolver(t),
		Filter: func(c *fiber.Ctx) bool {
			return c.Get("X-Skip") == "1"
		},
		ValidationListeners: []bridgeware.ValidationListener{
			func(c *fiber.Ctx, claim *auth.Claim) error {
				seen = append(seen, claim.Subject)
				return nil
			},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("X-Skip", "1")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode, "filtered requests carry no session")
	assert.Empty(t, seen)

	res := do(t, app, http.MethodGet, "/api/me", "good")
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, []string{testSubject}, seen)
}

func TestBridgeware_ListenerRejects(t *testing.T) {
	app := newApp(bridgeware.Config{
		Verifier: stubVerifier(),
		Resolver: newResolver(t),
		ValidationListeners: []bridgeware.ValidationListener{
			func(c *fiber.Ctx, claim *auth.Claim) error {
				return auth.ErrAudienceOrIssuerMismatch
			},
		},
	})

	res := do(t, app, http.MethodGet, "/api/me", "good")
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, auth.TextCodeAudienceIssuerMismatch, res.body["error"])
}

func TestBridgeware_RequiresCollaborators(t *testing.T) {
	assert.Panics(t, func() { bridgeware.New(bridgeware.Config{Resolver: failingResolver{}}) })
	assert.Panics(t, func() { bridgeware.New(bridgeware.Config{Verifier: stubVerifier()}) })
	assert.Panics(t, func() { bridgeware.Logout() })
}
