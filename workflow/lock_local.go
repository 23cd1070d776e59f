package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// NewLocalWorkflowLock 进程内锁,单机部署用
// 每个key一个独立的互斥量,不同key之间零竞争
func NewLocalWorkflowLock() WorkflowLock {
	return &localWorkflowLock{
		locks: &sync.Map{},
	}
}

type localWorkflowLock struct {
	locks *sync.Map // key -> *localLockInfo
}

type localLockInfo struct {
	mu       sync.Mutex
	value    string      // 锁的值,用于验证释放的是不是自己持有的锁
	expireAt time.Time   // 过期时间
	timer    *time.Timer // 超时自动释放定时器
}

// NonBlockingSynchronized 非阻塞同步执行
func (l *localWorkflowLock) NonBlockingSynchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, f func(context.Context) error) error {
	// 同一个ctx里面已经持有锁,可重入,直接执行
	if _, ok := ctx.Value(lockKey(key)).(string); ok {
		return f(ctx)
	}

	value := l.getRandomValue()

	lockInfoInterface, _ := l.locks.LoadOrStore(key, &localLockInfo{})
	info := lockInfoInterface.(*localLockInfo)

	if !info.mu.TryLock() {
		// 锁被占用,立即返回失败,由调用方决定是否重试
		return errors.WithMessage(LockFailedError, "[localWorkflowLock.NonBlockingSynchronized] has been locked")
	}

	// 释放方会先把entry从map里删掉再解锁,
	// 这里锁到的可能是一个已经被摘掉的旧entry,重新确认身份,不是map里的那一个就放弃
	if current, ok := l.locks.Load(key); !ok || current != lockInfoInterface {
		info.mu.Unlock()
		return errors.WithMessage(LockFailedError, "[localWorkflowLock.NonBlockingSynchronized] lock entry is stale")
	}

	info.value = value
	info.expireAt = time.Now().Add(maxLockTimeDuration)
	info.timer = time.AfterFunc(maxLockTimeDuration, func() {
		l.releaseKey(key, value)
	})

	withKeyCtx := context.WithValue(ctx, lockKey(key), value)
	defer l.releaseKey(key, value)
	return f(withKeyCtx)
}

func (l *localWorkflowLock) getRandomValue() string {
	return fmt.Sprintf("%d_%d", rand.Int(), time.Now().UnixNano())
}

func (l *localWorkflowLock) releaseKey(key string, value string) {
	lockInfoInterface, ok := l.locks.Load(key)
	if !ok {
		// 锁不存在,可能已经被超时释放
		return
	}
	info := lockInfoInterface.(*localLockInfo)
	if info.value != value {
		slog.Warn(fmt.Sprintf("[localWorkflowLock.releaseKey] value mismatch, expected: %s, got: %s", info.value, value))
		return
	}
	if info.timer != nil {
		info.timer.Stop()
	}
	// 必须先删后解锁: 解锁之后别人可能立刻TryLock成功,
	// 如果entry这时还在map里,和LoadOrStore新建的entry会出现同一个key两个持有者
	l.locks.Delete(key)
	info.mu.Unlock()
}
