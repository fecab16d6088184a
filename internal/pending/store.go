package pending

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
)

// Operation correlates an in-flight gateway request with the flow that
// started it, so an asynchronous callback arriving after the original
// request context is gone (or after a restart, with the redis store) can
// still be matched and settled.
type Operation struct {
	CorrelationKey string    `json:"correlation_key"`
	RequestRef     string    `json:"request_ref"`
	FlowType       string    `json:"flow_type"`
	PhoneNumber    string    `json:"phone_number"`
	AmountKES      float64   `json:"amount_kes"`
	Chain          string    `json:"chain"`
	DebitTxHash    string    `json:"debit_tx_hash,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Store interface {
	Put(ctx context.Context, op Operation, ttl time.Duration) error
	Get(ctx context.Context, correlationKey string) (*Operation, error)
	Delete(ctx context.Context, correlationKey string) error
}

// RedisStore keeps pending operations in redis so callbacks survive a
// process restart.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func opKey(correlationKey string) string { return "pendingop:" + correlationKey }

func (s *RedisStore) Put(ctx context.Context, op Operation, ttl time.Duration) error {
	raw, err := json.Marshal(op)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, opKey(op.CorrelationKey), raw, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, correlationKey string) (*Operation, error) {
	raw, err := s.rdb.Get(ctx, opKey(correlationKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var op Operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

func (s *RedisStore) Delete(ctx context.Context, correlationKey string) error {
	return s.rdb.Del(ctx, opKey(correlationKey)).Err()
}

// MemoryStore backs tests and single-process dev runs.
type MemoryStore struct {
	mu  sync.Mutex
	ops map[string]memoryOp
}

type memoryOp struct {
	op        Operation
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[string]memoryOp)}
}

func (s *MemoryStore) Put(_ context.Context, op Operation, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.CorrelationKey] = memoryOp{op: op, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, correlationKey string) (*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.ops[correlationKey]
	if !ok || time.Now().After(rec.expiresAt) {
		delete(s.ops, correlationKey)
		return nil, domain.ErrNotFound
	}
	op := rec.op
	return &op, nil
}

func (s *MemoryStore) Delete(_ context.Context, correlationKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, correlationKey)
	return nil
}
