package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSessionContext(t *testing.T) {
	ctx := context.Background()

	_, ok := SessionFromContext(ctx)
	assert.False(t, ok)

	session := &Session{ID: "abc", UserID: uuid.New()}
	got, ok := SessionFromContext(WithSession(ctx, session))
	assert.True(t, ok)
	assert.Same(t, session, got)

	_, ok = SessionFromContext(WithSession(ctx, nil))
	assert.False(t, ok)

	_, ok = SessionFromContext(context.WithValue(ctx, sessionCtxKey, "not-a-session"))
	assert.False(t, ok)
}

func TestClaimContext(t *testing.T) {
	claim := &Claim{Subject: "auth0|abc123"}

	got, ok := ClaimFromContext(WithClaim(context.Background(), claim))
	assert.True(t, ok)
	assert.Equal(t, "auth0|abc123", got.Subject)

	_, ok = ClaimFromContext(context.Background())
	assert.False(t, ok)
}

func TestUserContext(t *testing.T) {
	user := &User{ID: uuid.New(), Email: "jdoe@example.com"}

	got, ok := UserFromContext(WithUser(context.Background(), user))
	assert.True(t, ok)
	assert.Equal(t, user.ID, got.ID)

	_, ok = UserFromContext(WithSession(context.Background(), &Session{}))
	assert.False(t, ok)
}
