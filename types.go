package auth

import (
	"context"
	"time"
)

// Logger is the structured logger used across the package. Arguments are
// key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Verifier validates a raw bearer token and returns its verified claim
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Claim, error)
}

// VerifierFunc adapts a function into a Verifier
type VerifierFunc func(ctx context.Context, rawToken string) (*Claim, error)

// Verify implements Verifier
func (f VerifierFunc) Verify(ctx context.Context, rawToken string) (*Claim, error) {
	if f == nil {
		return nil, ErrMalformedToken
	}
	return f(ctx, rawToken)
}

// UserStore is the persistence contract the reconciler drives. Lookups for
// unknown identities return an error satisfying IsUserNotFound. CreateUser
// returns an error satisfying IsDuplicateIdentity when the identity exists.
type UserStore interface {
	FindUser(ctx context.Context, identity string, opts ...FindUserOption) (*User, error)
	CountSessions(ctx context.Context, user *User) (int, error)
	FindOneSession(ctx context.Context, user *User) (*Session, error)
	CreateUser(ctx context.Context, identity, credential string) (*User, error)
	Login(ctx context.Context, identity, credential string, ttl time.Duration) (*Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// FindUserOptions controls user lookups
type FindUserOptions struct {
	IncludeSessions bool
}

// FindUserOption configures a lookup
type FindUserOption func(*FindUserOptions)

// WithSessions preloads the user's live sessions
func WithSessions() FindUserOption {
	return func(o *FindUserOptions) {
		o.IncludeSessions = true
	}
}

func resolveFindUserOptions(opts ...FindUserOption) FindUserOptions {
	o := FindUserOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// SessionResolver is what the request pipeline needs from the reconciler
type SessionResolver interface {
	Resolve(ctx context.Context, claim *Claim) (*Resolution, error)
	Logout(ctx context.Context, session *Session) error
}
