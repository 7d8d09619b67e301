package x12

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Control number sequence keys. Each envelope level draws from its own
// sequence.
const (
	InterchangeSequence = "interchange"
	GroupSequence       = "group"
	TransactionSequence = "transaction"
)

// MaxInterchangeControl is the largest value ISA13 (nine digits) can hold.
const MaxInterchangeControl int64 = 999999999

// ControlNumberSequence hands out monotonically increasing control numbers.
// Implementations must never return the same value twice for a key.
type ControlNumberSequence interface {
	Next(ctx context.Context, key string) (int64, error)
}

// MemorySequence is a process-local ControlNumberSequence.
type MemorySequence struct {
	mu     sync.Mutex
	values map[string]int64
	start  int64
}

// NewMemorySequence creates a sequence whose first value for every key is
// start+1.
func NewMemorySequence(start int64) *MemorySequence {
	return &MemorySequence{values: make(map[string]int64), start: start}
}

// Next returns the next value for key.
func (s *MemorySequence) Next(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.values[key]
	if !ok {
		cur = s.start
	}
	if cur >= MaxInterchangeControl {
		return 0, fmt.Errorf("x12: control number sequence %q exhausted", key)
	}
	cur++
	s.values[key] = cur
	return cur, nil
}

// RedisSequence persists sequences in Redis with INCR so control numbers stay
// unique across restarts and across replicas.
type RedisSequence struct {
	client redis.Cmdable
	prefix string
}

// NewRedisSequence creates a sequence storing keys under prefix.
func NewRedisSequence(client redis.Cmdable, prefix string) *RedisSequence {
	if prefix == "" {
		prefix = "x12:control:"
	}
	return &RedisSequence{client: client, prefix: prefix}
}

// Next increments and returns the value for key.
func (s *RedisSequence) Next(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, s.prefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("x12: increment control number %q: %w", key, err)
	}
	if n > MaxInterchangeControl {
		return 0, fmt.Errorf("x12: control number sequence %q exhausted", key)
	}
	return n, nil
}

// seedScript raises KEYS[1] to ARGV[1] unless it already holds a value at
// least that large. It returns the stored value.
var seedScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local want = tonumber(ARGV[1])
if cur < want then
	redis.call('SET', KEYS[1], ARGV[1])
	return want
end
return cur
`)

// Seed raises the stored value for key to value if it is lower, so the next
// control number is value+1. It runs as one script, so a concurrent Next is
// never overwritten. It is used when migrating from another numbering source.
func (s *RedisSequence) Seed(ctx context.Context, key string, value int64) (int64, error) {
	if value < 0 || value > MaxInterchangeControl {
		return 0, fmt.Errorf("x12: seed value %d out of range", value)
	}
	n, err := seedScript.Run(ctx, s.client, []string{s.prefix + key}, value).Int64()
	if err != nil {
		return 0, fmt.Errorf("x12: seed control number %q: %w", key, err)
	}
	return n, nil
}
