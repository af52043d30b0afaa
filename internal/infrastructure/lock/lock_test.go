package lock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_MutualExclusion(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var inside int32
	var maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, LedgerKey(1, 2))
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalLocker_ContextCancelled(t *testing.T) {
	locker := NewLocalLocker()
	release, err := locker.Acquire(context.Background(), SettlementKey("X"))
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, SettlementKey("X"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// 不同 key 互不影响
	other, err := locker.Acquire(context.Background(), SettlementKey("Y"))
	require.NoError(t, err)
	other()
}

func TestLocalLocker_ReleasesKeys(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		release, err := locker.Acquire(ctx, SettlementKey(fmt.Sprintf("MEAL%d", i)))
		require.NoError(t, err)
		release()
		release() // 重复释放无副作用
	}
	assert.Equal(t, 0, locker.size())

	// 等待超时的一方同样要归还计数
	release, err := locker.Acquire(ctx, LedgerKey(1, 1))
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(waitCtx, LedgerKey(1, 1))
	require.Error(t, err)
	assert.Equal(t, 1, locker.size())

	release()
	assert.Equal(t, 0, locker.size())
}
