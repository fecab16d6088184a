package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
)

// Store holds one-time codes keyed by phone number. A code is single-use:
// Consume removes it atomically on a successful match, so two concurrent
// verifications of the same code cannot both succeed. Codes not consumed
// within their validity window are invalid.
type Store interface {
	Put(ctx context.Context, phone, code string, ttl time.Duration) error
	Consume(ctx context.Context, phone, code string) error
}

// Generate returns a 6-digit numeric code.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// RedisStore keeps codes in redis so they survive a process restart and
// are shared across replicas. GETDEL makes consumption atomic.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func otpKey(phone string) string { return "otp:" + phone }

func (s *RedisStore) Put(ctx context.Context, phone, code string, ttl time.Duration) error {
	return s.rdb.Set(ctx, otpKey(phone), code, ttl).Err()
}

func (s *RedisStore) Consume(ctx context.Context, phone, code string) error {
	stored, err := s.rdb.GetDel(ctx, otpKey(phone)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.ErrOTPExpired
	}
	if err != nil {
		return err
	}
	if stored != code {
		// The record is gone either way; a wrong guess burns the code.
		return domain.ErrOTPInvalid
	}
	return nil
}

// MemoryStore is the in-process fallback used in tests and local dev.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	code      string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

func (s *MemoryStore) Put(_ context.Context, phone, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[phone] = memoryRecord{code: code, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[phone]
	if !ok {
		return domain.ErrOTPExpired
	}
	delete(s.records, phone)
	if time.Now().After(rec.expiresAt) {
		return domain.ErrOTPExpired
	}
	if rec.code != code {
		return domain.ErrOTPInvalid
	}
	return nil
}
