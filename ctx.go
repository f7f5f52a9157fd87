package auth

import (
	"context"
)

var sessionCtxKey = &contextKey{"session"}
var claimCtxKey = &contextKey{"claim"}

type contextKey struct {
	name string
}

// WithSession sets the resolved Session in the given context
func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey, session)
}

// SessionFromContext finds the session attached by the request pipeline
func SessionFromContext(ctx context.Context) (*Session, bool) {
	raw, ok := ctx.Value(sessionCtxKey).(*Session)
	return raw, ok && raw != nil
}

// WithClaim sets the verified Claim in the given context
func WithClaim(ctx context.Context, claim *Claim) context.Context {
	return context.WithValue(ctx, claimCtxKey, claim)
}

// ClaimFromContext extracts the verified Claim from the context
func ClaimFromContext(ctx context.Context) (*Claim, bool) {
	raw, ok := ctx.Value(claimCtxKey).(*Claim)
	return raw, ok && raw != nil
}

var userCtxKey = &contextKey{"user"}

// WithUser sets the local User in the given context
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

// UserFromContext finds the local user bound to the request
func UserFromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok && raw != nil
}
