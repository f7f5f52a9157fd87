package auth

import (
	"context"
	"time"
)

// ReconcileState is the local state of an identity, computed fresh for
// every request
type ReconcileState string

const (
	StateNoUser         ReconcileState = "NO_USER"
	StateUserNoSession  ReconcileState = "USER_NO_SESSION"
	StateUserHasSession ReconcileState = "USER_HAS_SESSION"
)

// Outcome tags how a Resolution was reached
type Outcome string

const (
	// OutcomeProvisioned means a new user and a new session were created
	OutcomeProvisioned Outcome = "provisioned"
	// OutcomeLoggedIn means an existing user got a new session
	OutcomeLoggedIn Outcome = "logged_in"
	// OutcomeReused means an existing live session was returned
	OutcomeReused Outcome = "reused"
)

// Resolution is the result of reconciling one verified claim
type Resolution struct {
	Outcome  Outcome
	State    ReconcileState
	Identity LocalIdentity
	User     *User
	Session  *Session
}

// Classify returns the state for a lookup result. A nil user is NO_USER.
func Classify(user *User, liveSessions int) ReconcileState {
	switch {
	case user == nil:
		return StateNoUser
	case liveSessions <= 0:
		return StateUserNoSession
	default:
		return StateUserHasSession
	}
}

// SessionReconciler drives a verified claim to a local user holding a
// usable session. It keeps no state between calls.
type SessionReconciler struct {
	store    UserStore
	mapper   IdentityMapper
	logger   Logger
	activity ActivitySink
	now      func() time.Time
}

var _ SessionResolver = (*SessionReconciler)(nil)

// ReconcilerOption configures a SessionReconciler
type ReconcilerOption func(*SessionReconciler)

// WithReconcilerLogger sets the logger
func WithReconcilerLogger(l Logger) ReconcilerOption {
	return func(r *SessionReconciler) {
		r.logger = normalizeLogger(l)
	}
}

// WithActivitySink sets the sink receiving provisioning and session events
func WithActivitySink(s ActivitySink) ReconcilerOption {
	return func(r *SessionReconciler) {
		r.activity = normalizeActivitySink(s)
	}
}

// WithClock overrides the clock used to compute session ttl
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *SessionReconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// NewSessionReconciler returns a reconciler over store using mapper
func NewSessionReconciler(store UserStore, mapper IdentityMapper, opts ...ReconcilerOption) *SessionReconciler {
	r := &SessionReconciler{
		store:    store,
		mapper:   mapper,
		logger:   defaultLogger(),
		activity: noopActivitySink{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve maps claim to a local identity and returns the session bound to it,
// provisioning the user and minting a session as needed. An already expired
// claim fails with ErrInvalidTTL before any store call.
func (r *SessionReconciler) Resolve(ctx context.Context, claim *Claim) (*Resolution, error) {
	res, err := r.resolve(ctx, claim)
	if err != nil {
		r.record(ctx, ActivityEvent{
			EventType: ActivityEventResolveFailure,
			Subject:   claimSubject(claim),
			Metadata:  map[string]any{"error": err.Error()},
		})
		return nil, err
	}
	return res, nil
}

func (r *SessionReconciler) resolve(ctx context.Context, claim *Claim) (*Resolution, error) {
	if claim == nil {
		return nil, mappingError("claim is required", nil)
	}

	identity, err := r.mapper.Map(claim)
	if err != nil {
		return nil, err
	}

	if _, err := r.ttl(claim); err != nil {
		return nil, err
	}

	state, user, err := r.classify(ctx, identity)
	if err != nil {
		return nil, err
	}

	res := &Resolution{
		State:    state,
		Identity: identity,
		User:     user,
	}

	r.logger.Debug("reconciling claim",
		"subject", claim.Subject,
		"identity", identity.Identifier,
		"state", state,
	)

	switch state {
	case StateNoUser:
		user, created, err := r.provision(ctx, identity)
		if err != nil {
			return nil, err
		}
		res.User = user

		session, err := r.login(ctx, claim, identity, user)
		if err != nil {
			return nil, err
		}
		res.Session = session
		res.Outcome = OutcomeLoggedIn
		if created {
			res.Outcome = OutcomeProvisioned
		}

	case StateUserNoSession:
		session, err := r.login(ctx, claim, identity, user)
		if err != nil {
			return nil, err
		}
		res.Session = session
		res.Outcome = OutcomeLoggedIn

	case StateUserHasSession:
		session, err := r.store.FindOneSession(ctx, user)
		if err != nil && !IsSessionNotFound(err) {
			return nil, storeError("find_one_session", err)
		}
		if session == nil {
			// the session expired or was revoked after it was counted
			session, err = r.login(ctx, claim, identity, user)
			if err != nil {
				return nil, err
			}
			res.State = StateUserNoSession
			res.Session = session
			res.Outcome = OutcomeLoggedIn
			break
		}
		res.Session = session
		res.Outcome = OutcomeReused
		r.record(ctx, ActivityEvent{
			EventType: ActivityEventSessionReused,
			Subject:   claim.Subject,
			Identity:  identity.Identifier,
			UserID:    user.ID.String(),
			SessionID: session.ID,
			Metadata:  map[string]any{"remaining": int64(session.Remaining(r.now()) / time.Second)},
		})
	}

	return res, nil
}

// Logout deletes session. The user is left untouched.
func (r *SessionReconciler) Logout(ctx context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return ErrSessionNotFound
	}

	if err := r.store.DeleteSession(ctx, session.ID); err != nil {
		return storeError("delete_session", err)
	}

	r.record(ctx, ActivityEvent{
		EventType: ActivityEventSessionRevoked,
		UserID:    session.UserID.String(),
		SessionID: session.ID,
	})
	return nil
}

func (r *SessionReconciler) classify(ctx context.Context, identity LocalIdentity) (ReconcileState, *User, error) {
	user, err := r.store.FindUser(ctx, identity.Identifier, WithSessions())
	if err != nil {
		if IsUserNotFound(err) {
			return StateNoUser, nil, nil
		}
		return "", nil, storeError("find_user", err)
	}

	if user == nil {
		return StateNoUser, nil, nil
	}

	count, err := r.store.CountSessions(ctx, user)
	if err != nil {
		return "", nil, storeError("count_sessions", err)
	}

	return Classify(user, count), user, nil
}

// provision creates the user. When a concurrent request won the race the
// lookup is retried once and the existing user is returned with created
// set to false.
func (r *SessionReconciler) provision(ctx context.Context, identity LocalIdentity) (*User, bool, error) {
	user, err := r.store.CreateUser(ctx, identity.Identifier, identity.Credential)
	if err == nil {
		r.record(ctx, ActivityEvent{
			EventType: ActivityEventUserProvisioned,
			Identity:  identity.Identifier,
			UserID:    userID(user),
		})
		return user, true, nil
	}

	if !IsDuplicateIdentity(err) {
		return nil, false, storeError("create_user", err)
	}

	r.logger.Info("user already provisioned, retrying lookup", "identity", identity.Identifier)

	user, lookupErr := r.store.FindUser(ctx, identity.Identifier)
	if lookupErr != nil {
		if IsUserNotFound(lookupErr) {
			return nil, false, storeError("create_user", err)
		}
		return nil, false, storeError("find_user", lookupErr)
	}

	if user == nil {
		return nil, false, storeError("create_user", err)
	}

	return user, false, nil
}

func (r *SessionReconciler) login(ctx context.Context, claim *Claim, identity LocalIdentity, user *User) (*Session, error) {
	ttl, err := r.ttl(claim)
	if err != nil {
		return nil, err
	}

	session, err := r.store.Login(ctx, identity.Identifier, identity.Credential, ttl)
	if err != nil {
		return nil, storeError("login", err)
	}

	r.record(ctx, ActivityEvent{
		EventType: ActivityEventSessionCreated,
		Subject:   claim.Subject,
		Identity:  identity.Identifier,
		UserID:    userID(user),
		SessionID: session.ID,
		Metadata:  map[string]any{"ttl": int64(ttl / time.Second)},
	})

	return session, nil
}

func (r *SessionReconciler) ttl(claim *Claim) (time.Duration, error) {
	ttl := claim.TTL(r.now())
	if ttl <= 0 {
		return 0, WrapError(ErrInvalidTTL, nil, map[string]any{
			"subject":    claim.Subject,
			"expires_at": claim.ExpiresAt,
		})
	}
	return ttl, nil
}

func (r *SessionReconciler) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now()
	}
	if err := r.activity.Record(ctx, event); err != nil {
		r.logger.Warn("activity sink failed", "event", event.EventType, "error", err)
	}
}

func userID(u *User) string {
	if u == nil {
		return ""
	}
	return u.ID.String()
}

func claimSubject(c *Claim) string {
	if c == nil {
		return ""
	}
	return c.Subject
}
