package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ChainLocker serializes reconciliation of one renewal chain.
type ChainLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

var ErrLockTimeout = errors.New("chain lock: timed out waiting for lock")

// releaseScript deletes the lock only if it is still held by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisChainLocker holds a SET NX PX lock per chain key.
type RedisChainLocker struct {
	rdb      *redis.Client
	ttl      time.Duration
	wait     time.Duration
	interval time.Duration
}

func NewRedisChainLocker(rdb *redis.Client, ttl, wait time.Duration) *RedisChainLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return &RedisChainLocker{rdb: rdb, ttl: ttl, wait: wait, interval: 50 * time.Millisecond}
}

func (l *RedisChainLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := "iap:chain:" + key
	owner := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, owner, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("chain lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.interval):
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{redisKey}, owner).Err()
	}, nil
}

// LocalChainLocker serializes chains inside one process.
type LocalChainLocker struct {
	mu    sync.Mutex
	locks map[string]*chainLock
}

type chainLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalChainLocker() *LocalChainLocker {
	return &LocalChainLocker{locks: make(map[string]*chainLock)}
}

func (l *LocalChainLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &chainLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lk, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, lk, true) })
	}, nil
}

func (l *LocalChainLocker) release(key string, lk *chainLock, held bool) {
	if held {
		<-lk.ch
	}
	l.mu.Lock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
