// Package lock serializes minting per order.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired 锁已被其他持有者占用
var ErrNotAcquired = errors.New("lock held by another owner")

const keyPrefix = "mintlock:"

// Locker hands out exclusive, expiring leases on a key.
type Locker interface {
	// Acquire returns ErrNotAcquired when another holder has the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease releases a held lock. Release after expiry is a no-op.
type Lease interface {
	Release(ctx context.Context) error
}

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX PX 的分布式锁
type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &redisLease{client: l.client, key: keyPrefix + key, token: token}, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}

// MemoryLocker is a single-process Locker for tests and sqlite deployments.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryEntry
	now  func() time.Time
	seq  uint64
}

type memoryEntry struct {
	id      uint64
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryEntry), now: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return nil, ErrNotAcquired
	}
	l.seq++
	l.held[key] = memoryEntry{id: l.seq, expires: now.Add(ttl)}
	return &memoryLease{locker: l, key: key, id: l.seq}, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	id     uint64
}

func (l *memoryLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if e, ok := l.locker.held[l.key]; ok && e.id == l.id {
		delete(l.locker.held, l.key)
	}
	return nil
}
