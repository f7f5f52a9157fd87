package auth

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/bun"
)

// Store implements UserStore on top of the users and sessions repositories.
// The credential is only ever stored as a bcrypt hash.
type Store struct {
	users    Users
	sessions Sessions
	txm      TransactionManager
	logger   Logger
	now      func() time.Time
}

var _ UserStore = (*Store)(nil)

// StoreOption configures a Store
type StoreOption func(*Store)

// WithStoreLogger sets the store logger
func WithStoreLogger(l Logger) StoreOption {
	return func(s *Store) {
		s.logger = normalizeLogger(l)
	}
}

// WithStoreClock overrides the clock used to judge session liveness
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns a Store backed by the given repositories
func NewStore(users Users, sessions Sessions, opts ...StoreOption) *Store {
	s := &Store{
		users:    users,
		sessions: sessions,
		logger:   defaultLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// WithStoreTransactions makes Login read the user, insert the session and
// track the login inside one transaction
func WithStoreTransactions(txm TransactionManager) StoreOption {
	return func(s *Store) {
		s.txm = txm
	}
}

// NewStoreFromManager returns a Store using the manager repositories and
// transactions
func NewStoreFromManager(m RepositoryManager, opts ...StoreOption) *Store {
	return NewStore(m.Users(), m.Sessions(), append([]StoreOption{WithStoreTransactions(m)}, opts...)...)
}

func (s *Store) FindUser(ctx context.Context, identity string, opts ...FindUserOption) (*User, error) {
	user, err := s.users.GetByIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}

	if resolveFindUserOptions(opts...).IncludeSessions {
		live, err := s.sessions.ListLive(ctx, user.ID, s.now())
		if err != nil {
			return nil, err
		}
		user.Sessions = live
	}

	return user, nil
}

func (s *Store) CountSessions(ctx context.Context, user *User) (int, error) {
	if user == nil {
		return 0, ErrUserNotFound
	}
	if user.Sessions != nil {
		return countLive(user.Sessions, s.now()), nil
	}
	return s.sessions.CountLive(ctx, user.ID, s.now())
}

func (s *Store) FindOneSession(ctx context.Context, user *User) (*Session, error) {
	if user == nil {
		return nil, ErrUserNotFound
	}
	return s.sessions.FirstLive(ctx, user.ID, s.now())
}

func (s *Store) CreateUser(ctx context.Context, identity, credential string) (*User, error) {
	hash, err := HashPassword(credential)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, &User{
		Email:        identity,
		PasswordHash: hash,
	})
	if err != nil {
		if IsDuplicateIdentity(err) {
			return nil, WrapError(ErrDuplicateIdentity, err, map[string]any{"identity": identity})
		}
		return nil, err
	}

	s.logger.Info("user provisioned", "user_id", user.ID, "identity", identity)
	return user, nil
}

func (s *Store) Login(ctx context.Context, identity, credential string, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		return nil, WrapError(ErrInvalidTTL, nil, map[string]any{"ttl": ttl.Seconds()})
	}

	if s.txm == nil {
		return s.login(ctx, identity, credential, ttl)
	}

	var session *Session
	err := s.txm.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		session, err = s.loginTx(ctx, tx, identity, credential, ttl)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Store) login(ctx context.Context, identity, credential string, ttl time.Duration) (*Session, error) {
	user, err := s.users.GetByIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}

	session, err := s.openSession(user, credential, ttl)
	if err != nil {
		return nil, err
	}

	if session, err = s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	if err := s.users.TrackSucccessfulLogin(ctx, user); err != nil {
		s.logger.Warn("failed to track login", "user_id", user.ID, "error", err)
	}

	return session, nil
}

func (s *Store) loginTx(ctx context.Context, tx bun.IDB, identity, credential string, ttl time.Duration) (*Session, error) {
	user, err := s.users.GetByIdentityTx(ctx, tx, identity)
	if err != nil {
		return nil, err
	}

	session, err := s.openSession(user, credential, ttl)
	if err != nil {
		return nil, err
	}

	if err := s.users.TrackSucccessfulLoginTx(ctx, tx, user); err != nil {
		return nil, err
	}

	// sessions outside the database, e.g. redis, are written last so a
	// failed insert rolls back the login tracking
	if txs, ok := s.sessions.(TxSessions); ok {
		return txs.CreateTx(ctx, tx, session)
	}
	return s.sessions.Create(ctx, session)
}

// openSession checks the credential and builds a new session for user
func (s *Store) openSession(user *User, credential string, ttl time.Duration) (*Session, error) {
	if err := ComparePasswordAndHash(credential, user.PasswordHash); err != nil {
		return nil, err
	}

	token, err := NewSessionToken()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	return &Session{
		ID:        token,
		UserID:    user.ID,
		TTL:       int64(ttl / time.Second),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionNotFound
	}
	return s.sessions.Delete(ctx, sessionID)
}

// PurgeExpiredSessions removes sessions past their expiration and returns
// how many were removed
func (s *Store) PurgeExpiredSessions(ctx context.Context) (int, error) {
	n, err := s.sessions.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Debug("purged expired sessions", "count", n)
	}
	return n, nil
}

// RunPurger purges expired sessions every interval until ctx is done
func (s *Store) RunPurger(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("purge interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.PurgeExpiredSessions(ctx); err != nil {
				s.logger.Error("session purge failed", "error", err)
			}
		}
	}
}

func countLive(sessions []*Session, now time.Time) int {
	n := 0
	for _, s := range sessions {
		if !s.Expired(now) {
			n++
		}
	}
	return n
}
