package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLocalWorkflowLock 测试进程内锁
func TestLocalWorkflowLock(t *testing.T) {
	lock := NewLocalWorkflowLock()
	ctx := context.Background()

	t.Run("正常执行并释放", func(t *testing.T) {
		executed := false
		err := lock.NonBlockingSynchronized(ctx, "key1", time.Minute, func(ctx context.Context) error {
			executed = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, executed)

		// 释放之后可以再拿
		err = lock.NonBlockingSynchronized(ctx, "key1", time.Minute, func(ctx context.Context) error {
			return nil
		})
		assert.NoError(t, err)
	})

	t.Run("持有期间其他人拿不到", func(t *testing.T) {
		err := lock.NonBlockingSynchronized(ctx, "key2", time.Minute, func(lockedCtx context.Context) error {
			// 用没有锁标识的原始ctx模拟另一个调用方
			innerErr := lock.NonBlockingSynchronized(ctx, "key2", time.Minute, func(context.Context) error {
				return nil
			})
			assert.ErrorIs(t, innerErr, LockFailedError)
			return nil
		})
		assert.NoError(t, err)
	})

	t.Run("同一个ctx可重入", func(t *testing.T) {
		err := lock.NonBlockingSynchronized(ctx, "key3", time.Minute, func(lockedCtx context.Context) error {
			return lock.NonBlockingSynchronized(lockedCtx, "key3", time.Minute, func(context.Context) error {
				return nil
			})
		})
		assert.NoError(t, err)
	})

	t.Run("不同key互不影响", func(t *testing.T) {
		err := lock.NonBlockingSynchronized(ctx, "key4", time.Minute, func(context.Context) error {
			return lock.NonBlockingSynchronized(ctx, "key5", time.Minute, func(context.Context) error {
				return nil
			})
		})
		assert.NoError(t, err)
	})

	t.Run("高频抢锁释放不会出现两个持有者", func(t *testing.T) {
		// 释放会把entry从map里摘掉,抢到旧entry的一方必须失败,
		// 任何时刻临界区里最多只能有一个goroutine
		var inside int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					lock.NonBlockingSynchronized(ctx, "key6", time.Minute, func(context.Context) error {
						if !atomic.CompareAndSwapInt32(&inside, 0, 1) {
							t.Error("critical section entered by two goroutines")
							return nil
						}
						atomic.StoreInt32(&inside, 0)
						return nil
					})
				}
			}()
		}
		wg.Wait()
	})
}

// TestRedisWorkflowLock 测试redis分布式锁,用miniredis免起真实server
func TestRedisWorkflowLock(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	lock := NewRedisWorkflowLock(client)
	ctx := context.Background()

	t.Run("正常执行并释放", func(t *testing.T) {
		executed := false
		err := lock.NonBlockingSynchronized(ctx, "rkey1", time.Minute, func(context.Context) error {
			executed = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, executed)
		// 锁已经释放
		assert.False(t, server.Exists("rkey1"))
	})

	t.Run("持有期间其他人拿不到", func(t *testing.T) {
		err := lock.NonBlockingSynchronized(ctx, "rkey2", time.Minute, func(lockedCtx context.Context) error {
			assert.True(t, server.Exists("rkey2"))
			innerErr := lock.NonBlockingSynchronized(ctx, "rkey2", time.Minute, func(context.Context) error {
				return nil
			})
			assert.ErrorIs(t, innerErr, LockFailedError)
			return nil
		})
		assert.NoError(t, err)
	})

	t.Run("同一个ctx可重入", func(t *testing.T) {
		err := lock.NonBlockingSynchronized(ctx, "rkey3", time.Minute, func(lockedCtx context.Context) error {
			return lock.NonBlockingSynchronized(lockedCtx, "rkey3", time.Minute, func(context.Context) error {
				return nil
			})
		})
		assert.NoError(t, err)
	})

	t.Run("超时自动过期", func(t *testing.T) {
		err := lock.NonBlockingSynchronized(ctx, "rkey4", time.Second, func(context.Context) error {
			server.FastForward(2 * time.Second)
			assert.False(t, server.Exists("rkey4"))
			return nil
		})
		assert.NoError(t, err)
	})
}
