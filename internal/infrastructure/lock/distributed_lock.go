package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 同步确认与异步回调可能同时处理同一支付单，同一 (用户, 商品) 也可能同时
// 发起多次预约。锁只用来降低冲突，正确性由数据库的行锁 + 条件更新保证：
// 锁过期或 Redis 不可用时，最坏情况是事务内的条件更新失败，而不是重复入账。
//
// 加锁：SET key value NX EX timeout
// 释放：Lua 脚本比较 value 后再删除，避免误删别人的锁
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// Locker 按 key 互斥
type Locker interface {
	// Acquire 获取锁，返回释放函数
	Acquire(ctx context.Context, key string) (func(), error)
}

// DistributedLock 单把 Redis 锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁持有者标识
	expiration time.Duration // 过期时间，防止持有者崩溃后死锁
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// RedisLocker 基于 Redis 的 Locker 实现
type RedisLocker struct {
	client        *redis.Client
	expiration    time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client:        client,
		expiration:    30 * time.Second,
		retryInterval: 100 * time.Millisecond,
		maxRetries:    30,
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l := NewDistributedLock(r.client, key, uuid.NewString(), r.expiration)
	if err := l.Lock(ctx, r.retryInterval, r.maxRetries); err != nil {
		return nil, err
	}
	return func() {
		// 释放使用独立的 context，避免请求取消后锁无法释放
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		_ = l.Unlock(releaseCtx)
	}, nil
}

// LocalLocker 进程内实现，未启用 Redis 时及测试中使用
// 每个 key 按持有与等待者计数，计数归零即从表中删除
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lk.ch
				l.unref(key, lk)
			})
		}, nil
	case <-ctx.Done():
		l.unref(key, lk)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) unref(key string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}

// size 当前持有的 key 数量
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// SettlementKey 按支付单加锁：同步确认与回调互斥
func SettlementKey(orderID string) string {
	return fmt.Sprintf("settle:lock:order:%s", orderID)
}

// LedgerKey 按 (用户, 商品) 加锁：同一余额的预约串行执行
func LedgerKey(userID, productID int64) string {
	return fmt.Sprintf("ledger:lock:user:%d:product:%d", userID, productID)
}
