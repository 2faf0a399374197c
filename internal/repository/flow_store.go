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

// FlowStore holds pending login flows between the redirect to the provider
// and the callback. Records are single-use: Consume removes the record in the
// same round trip, so a duplicate callback with the same state loses the race.
type FlowStore interface {
	Put(ctx context.Context, flow *domain.PendingFlow, ttl time.Duration) error
	Consume(ctx context.Context, state string) (*domain.PendingFlow, error)
}

type RedisFlowStore struct {
	client    redis.UniversalClient
	prefix    string
	opTimeout time.Duration
}

func NewRedisFlowStore(client redis.UniversalClient, prefix string, opTimeout time.Duration) *RedisFlowStore {
	if prefix == "" {
		prefix = "flow"
	}
	if opTimeout <= 0 {
		opTimeout = 3 * time.Second
	}
	return &RedisFlowStore{client: client, prefix: prefix, opTimeout: opTimeout}
}

func (r *RedisFlowStore) key(state string) string {
	return fmt.Sprintf("%s:%s", r.prefix, state)
}

func (r *RedisFlowStore) Put(ctx context.Context, flow *domain.PendingFlow, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("encode pending flow: %w", err)
	}
	if err := r.client.Set(ctx, r.key(flow.State), data, ttl).Err(); err != nil {
		observability.RecordStoreOperation(ctx, "flow", "put", "error")
		return storeError("store pending flow", err)
	}
	observability.RecordStoreOperation(ctx, "flow", "put", "success")
	return nil
}

func (r *RedisFlowStore) Consume(ctx context.Context, state string) (*domain.PendingFlow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	raw, err := r.client.GetDel(ctx, r.key(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.RecordStoreOperation(ctx, "flow", "consume", "not_found")
		return nil, ErrFlowNotFound
	}
	if err != nil {
		observability.RecordStoreOperation(ctx, "flow", "consume", "error")
		return nil, storeError("consume pending flow", err)
	}
	var flow domain.PendingFlow
	if err := json.Unmarshal(raw, &flow); err != nil {
		observability.RecordStoreOperation(ctx, "flow", "consume", "error")
		return nil, fmt.Errorf("decode pending flow: %w", err)
	}
	observability.RecordStoreOperation(ctx, "flow", "consume", "success")
	return &flow, nil
}
