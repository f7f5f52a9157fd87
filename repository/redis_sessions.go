package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/goliatone/go-auth-bridge"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key written by RedisSessions
const DefaultRedisPrefix = "bridge:"

// RedisSessions stores sessions in redis. Each session is a JSON value that
// expires with the session, indexed by a per user sorted set scored by the
// expiration time in milliseconds.
type RedisSessions struct {
	client redis.UniversalClient
	prefix string
}

var _ auth.Sessions = (*RedisSessions)(nil)

// RedisOption configures RedisSessions
type RedisOption func(*RedisSessions)

// WithRedisPrefix overrides DefaultRedisPrefix
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisSessions) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewRedisSessions returns an auth.Sessions backed by client
func NewRedisSessions(client redis.UniversalClient, opts ...RedisOption) *RedisSessions {
	r := &RedisSessions{
		client: client,
		prefix: DefaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisSessions) sessionKey(id string) string {
	return r.prefix + "session:" + id
}

func (r *RedisSessions) userKey(userID uuid.UUID) string {
	return r.prefix + "user:" + userID.String()
}

func (r *RedisSessions) Create(ctx context.Context, record *auth.Session) (*auth.Session, error) {
	if record == nil || record.ID == "" || record.UserID == uuid.Nil {
		return nil, fmt.Errorf("session: missing id or user_id")
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.ExpiresAt = record.ExpiresAt.UTC()

	ttl := record.ExpiresAt.Sub(record.CreatedAt)
	if ttl <= 0 {
		return nil, auth.WrapError(auth.ErrInvalidTTL, nil, map[string]any{"session_id": record.ID})
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("session: failed to marshal: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.sessionKey(record.ID), data, ttl)
		pipe.ZAdd(ctx, r.userKey(record.UserID), redis.Z{
			Score:  float64(record.ExpiresAt.UnixMilli()),
			Member: record.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *RedisSessions) CountLive(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	records, err := r.ListLive(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (r *RedisSessions) FirstLive(ctx context.Context, userID uuid.UUID, now time.Time) (*auth.Session, error) {
	records, err := r.ListLive(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, auth.WrapError(auth.ErrSessionNotFound, nil, map[string]any{"user_id": userID.String()})
	}
	return records[0], nil
}

// ListLive returns the user's sessions expiring after now, oldest first.
// Index entries whose value already expired in redis are skipped.
func (r *RedisSessions) ListLive(ctx context.Context, userID uuid.UUID, now time.Time) ([]*auth.Session, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.userKey(userID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	records := []*auth.Session{}
	if len(ids) == 0 {
		return records, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.sessionKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		record := &auth.Session{}
		if err := json.Unmarshal([]byte(raw), record); err != nil {
			return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
		}
		if record.Expired(now) {
			continue
		}
		records = append(records, record)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, nil
}

func (r *RedisSessions) Delete(ctx context.Context, id string) error {
	raw, err := r.client.Get(ctx, r.sessionKey(id)).Result()
	if err == redis.Nil {
		return auth.WrapError(auth.ErrSessionNotFound, nil, map[string]any{"session_id": id})
	}
	if err != nil {
		return err
	}

	record := &auth.Session{}
	if err := json.Unmarshal([]byte(raw), record); err != nil {
		return fmt.Errorf("session: failed to unmarshal: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.sessionKey(id))
		pipe.ZRem(ctx, r.userKey(record.UserID), id)
		return nil
	})
	return err
}

// PurgeExpired drops index entries that expired at or before now. Session
// values expire on their own.
func (r *RedisSessions) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	max := strconv.FormatInt(now.UnixMilli(), 10)
	purged := 0

	iter := r.client.Scan(ctx, 0, r.prefix+"user:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		ids, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
		if err != nil {
			return purged, err
		}
		if len(ids) == 0 {
			continue
		}

		keys := make([]string, len(ids))
		members := make([]any, len(ids))
		for i, id := range ids {
			keys[i] = r.sessionKey(id)
			members[i] = id
		}

		_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, keys...)
			pipe.ZRem(ctx, key, members...)
			return nil
		})
		if err != nil {
			return purged, err
		}
		purged += len(ids)
	}

	return purged, iter.Err()
}
