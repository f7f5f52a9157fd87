package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Sessions is the session repository. Only sessions that have not reached
// their expiration are reported as live.
type Sessions interface {
	Create(ctx context.Context, record *Session) (*Session, error)
	CountLive(ctx context.Context, userID uuid.UUID, now time.Time) (int, error)
	FirstLive(ctx context.Context, userID uuid.UUID, now time.Time) (*Session, error)
	ListLive(ctx context.Context, userID uuid.UUID, now time.Time) ([]*Session, error)
	Delete(ctx context.Context, id string) error
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// TxSessions is implemented by session repositories that can join a
// database transaction
type TxSessions interface {
	CreateTx(ctx context.Context, tx bun.IDB, record *Session) (*Session, error)
}

type sessions struct {
	db *bun.DB
}

var (
	_ Sessions   = (*sessions)(nil)
	_ TxSessions = (*sessions)(nil)
)

// NewSessionsRepository returns a bun backed Sessions repository
func NewSessionsRepository(db *bun.DB) Sessions {
	return &sessions{db: db}
}

func (s *sessions) Create(ctx context.Context, record *Session) (*Session, error) {
	return s.CreateTx(ctx, s.db, record)
}

func (s *sessions) CreateTx(ctx context.Context, tx bun.IDB, record *Session) (*Session, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.ExpiresAt = record.ExpiresAt.UTC()

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *sessions) CountLive(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	return s.live(userID, now).Count(ctx)
}

func (s *sessions) FirstLive(ctx context.Context, userID uuid.UUID, now time.Time) (*Session, error) {
	record := &Session{}
	err := s.db.NewSelect().
		Model(record).
		Where("ses.user_id = ?", userID).
		Where("ses.expires_at > ?", now.UTC()).
		Order("ses.created_at ASC", "ses.id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, WrapError(ErrSessionNotFound, err, map[string]any{"user_id": userID.String()})
		}
		return nil, err
	}
	return record, nil
}

func (s *sessions) ListLive(ctx context.Context, userID uuid.UUID, now time.Time) ([]*Session, error) {
	records := []*Session{}
	err := s.db.NewSelect().
		Model(&records).
		Where("ses.user_id = ?", userID).
		Where("ses.expires_at > ?", now.UTC()).
		Order("ses.created_at ASC", "ses.id ASC").
		Scan(ctx)
	if err != nil && !isRecordNotFound(err) {
		return nil, err
	}
	return records, nil
}

func (s *sessions) Delete(ctx context.Context, id string) error {
	res, err := s.db.NewDelete().
		Model((*Session)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return WrapError(ErrSessionNotFound, nil, map[string]any{"session_id": id})
	}
	return nil
}

func (s *sessions) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.NewDelete().
		Model((*Session)(nil)).
		Where("expires_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sessions) live(userID uuid.UUID, now time.Time) *bun.SelectQuery {
	return s.db.NewSelect().
		Model((*Session)(nil)).
		Where("ses.user_id = ?", userID).
		Where("ses.expires_at > ?", now.UTC())
}
