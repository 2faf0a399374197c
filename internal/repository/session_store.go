package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sessiond/sessiond/internal/domain"
	"github.com/sessiond/sessiond/internal/observability"
)

// SessionStore is the sole authority for session state shared across backend
// instances. All operations are linearizable per session id; Mutate serializes
// concurrent writers through an optimistic compare-and-swap on the record's
// internal version field.
type SessionStore interface {
	Create(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	// Mutate applies fn to the current record and writes it back atomically.
	// A concurrent write in between surfaces as ErrConflict; Mutate itself
	// never retries.
	Mutate(ctx context.Context, sessionID string, fn func(*domain.Session) error) (*domain.Session, error)
	Revoke(ctx context.Context, sessionID, reason string) error
	ListByUser(ctx context.Context, subject string) ([]string, error)
}

type RedisSessionStore struct {
	client    redis.UniversalClient
	prefix    string
	opTimeout time.Duration
}

func NewRedisSessionStore(client redis.UniversalClient, prefix string, opTimeout time.Duration) *RedisSessionStore {
	if prefix == "" {
		prefix = "session"
	}
	if opTimeout <= 0 {
		opTimeout = 3 * time.Second
	}
	return &RedisSessionStore{client: client, prefix: prefix, opTimeout: opTimeout}
}

func (r *RedisSessionStore) key(sessionID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, sessionID)
}

func (r *RedisSessionStore) userIndexKey(subject string) string {
	return fmt.Sprintf("user:%s:sessions", subject)
}

func (r *RedisSessionStore) Create(ctx context.Context, s *domain.Session) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired at creation", s.ID)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(s.ID), data, ttl)
	pipe.SAdd(ctx, r.userIndexKey(s.Principal.Subject), s.ID)
	pipe.Expire(ctx, r.userIndexKey(s.Principal.Subject), ttl+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		observability.RecordStoreOperation(ctx, "session", "create", "error")
		return storeError("create session", err)
	}
	observability.RecordStoreOperation(ctx, "session", "create", "success")
	return nil
}

func (r *RedisSessionStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	raw, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.RecordStoreOperation(ctx, "session", "get", "not_found")
		return nil, ErrSessionNotFound
	}
	if err != nil {
		observability.RecordStoreOperation(ctx, "session", "get", "error")
		return nil, storeError("get session", err)
	}
	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		observability.RecordStoreOperation(ctx, "session", "get", "error")
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	observability.RecordStoreOperation(ctx, "session", "get", "success")
	return &s, nil
}

func (r *RedisSessionStore) Mutate(ctx context.Context, sessionID string, fn func(*domain.Session) error) (*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	key := r.key(sessionID)
	var updated *domain.Session
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		if err != nil {
			return storeError("read session", err)
		}
		var s domain.Session
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("decode session %s: %w", sessionID, err)
		}
		if err := fn(&s); err != nil {
			return mutateFnError{err: err}
		}
		s.Version++
		data, err := json.Marshal(&s)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &s
		return nil
	}, key)
	var fnErr mutateFnError
	switch {
	case err == nil:
		observability.RecordStoreOperation(ctx, "session", "mutate", "success")
		return updated, nil
	case errors.Is(err, redis.TxFailedErr):
		observability.RecordStoreOperation(ctx, "session", "mutate", "conflict")
		return nil, ErrConflict
	case errors.Is(err, ErrSessionNotFound):
		observability.RecordStoreOperation(ctx, "session", "mutate", "not_found")
		return nil, err
	case errors.As(err, &fnErr):
		observability.RecordStoreOperation(ctx, "session", "mutate", "rejected")
		return nil, fnErr.err
	case errors.Is(err, ErrStoreUnavailable):
		observability.RecordStoreOperation(ctx, "session", "mutate", "error")
		return nil, err
	default:
		// Watch can fail before the closure runs (dial, timeouts); anything
		// not already classified is a transport failure.
		observability.RecordStoreOperation(ctx, "session", "mutate", "error")
		return nil, storeError("mutate session", err)
	}
}

// mutateFnError marks an error returned by the caller's mutate function, so
// it is never mistaken for a transport failure when Watch surfaces it.
type mutateFnError struct{ err error }

func (e mutateFnError) Error() string { return e.err.Error() }
func (e mutateFnError) Unwrap() error { return e.err }

// Revoke marks the session revoked in place, keeping the record under its
// original TTL so replayed tokens keep failing until natural expiry. Revoking
// an unknown or already-revoked session succeeds silently.
func (r *RedisSessionStore) Revoke(ctx context.Context, sessionID, reason string) error {
	for attempt := 0; attempt < 2; attempt++ {
		_, err := r.Mutate(ctx, sessionID, func(s *domain.Session) error {
			if s.Revoked {
				return nil
			}
			s.Revoked = true
			s.RevokedReason = reason
			return nil
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrSessionNotFound):
			return nil
		case errors.Is(err, ErrConflict) && attempt == 0:
			continue
		default:
			return err
		}
	}
	return ErrConflict
}

func (r *RedisSessionStore) ListByUser(ctx context.Context, subject string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	ids, err := r.client.SMembers(ctx, r.userIndexKey(subject)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, storeError("list user sessions", err)
	}
	return ids, nil
}

func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
