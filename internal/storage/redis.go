package storage

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/redis.v5"
)

// redisGrace keeps an expired session readable long enough to report it as
// expired rather than unknown.
const redisGrace = time.Hour

// RedisStore keeps each session in a hash at "takedat:session:<code>" and
// relies on key expiry for cleanup.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ SessionStore = (*RedisStore)(nil)

// NewRedisStore connects to the redis server at addr.
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := client.Ping().Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client, prefix: "takedat:session:"}, nil
}

func (r *RedisStore) key(code string) string {
	return r.prefix + code
}

// CreateSession stores s unless a live session already holds its code.
func (r *RedisStore) CreateSession(s *Session) error {
	key := r.key(s.Code)
	if existing, err := r.GetSession(s.Code); err == nil {
		if !existing.Expired(s.CreatedAt) {
			return ErrCodeTaken
		}
		if err := r.client.Del(key).Err(); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
	} else if err != ErrNotFound {
		return err
	}

	ok, err := r.client.HSetNX(key, "id", s.ID).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return ErrCodeTaken
	}
	fields := map[string]string{
		"code":       s.Code,
		"file_name":  s.FileName,
		"file_size":  strconv.FormatInt(s.FileSize, 10),
		"mime_type":  s.MimeType,
		"status":     s.Status,
		"owner_hash": base64.StdEncoding.EncodeToString(s.OwnerHash),
		"created_at": strconv.FormatInt(s.CreatedAt, 10),
		"expires_at": strconv.FormatInt(s.ExpiresAt, 10),
	}
	if err := r.client.HMSet(key, fields).Err(); err != nil {
		r.client.Del(key)
		return fmt.Errorf("create session: %w", err)
	}
	if err := r.client.ExpireAt(key, time.UnixMilli(s.ExpiresAt).Add(redisGrace)).Err(); err != nil {
		return fmt.Errorf("create session: expire: %w", err)
	}
	return nil
}

// GetSession loads the session stored under code.
func (r *RedisStore) GetSession(code string) (*Session, error) {
	fields, err := r.client.HGetAll(r.key(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 || fields["expires_at"] == "" {
		return nil, ErrNotFound
	}
	s := &Session{
		ID:       fields["id"],
		Code:     fields["code"],
		FileName: fields["file_name"],
		MimeType: fields["mime_type"],
		Status:   fields["status"],
	}
	if s.FileSize, err = strconv.ParseInt(fields["file_size"], 10, 64); err != nil {
		return nil, fmt.Errorf("get session: file_size: %w", err)
	}
	if s.CreatedAt, err = strconv.ParseInt(fields["created_at"], 10, 64); err != nil {
		return nil, fmt.Errorf("get session: created_at: %w", err)
	}
	if s.ExpiresAt, err = strconv.ParseInt(fields["expires_at"], 10, 64); err != nil {
		return nil, fmt.Errorf("get session: expires_at: %w", err)
	}
	if s.OwnerHash, err = base64.StdEncoding.DecodeString(fields["owner_hash"]); err != nil {
		return nil, fmt.Errorf("get session: owner_hash: %w", err)
	}
	return s, nil
}

// UpdateStatus sets the status field of an existing session.
func (r *RedisStore) UpdateStatus(code, status string) error {
	key := r.key(code)
	if _, err := r.client.HGet(key, "id").Result(); err == redis.Nil {
		return ErrNotFound
	} else if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if err := r.client.HSet(key, "status", status).Err(); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// DeleteSession removes the session stored under code.
func (r *RedisStore) DeleteSession(code string) error {
	n, err := r.client.Del(r.key(code)).Result()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PruneExpired is a no-op: redis drops keys on its own once they pass their
// expiry plus the grace period.
func (r *RedisStore) PruneExpired(nowMillis int64) (int, error) {
	return 0, nil
}

// Close closes the redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
