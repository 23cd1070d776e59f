package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type lockKey string

const delCommand = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`

// NewRedisWorkflowLock 分布式锁,多实例部署的时候用
// 同一个工作流可能被不同容器同时操作,靠redis SetNX串行化
func NewRedisWorkflowLock(redisClient redis.Cmdable) WorkflowLock {
	return &redisWorkflowLock{redisClient: redisClient}
}

type redisWorkflowLock struct {
	redisClient redis.Cmdable
}

func (d *redisWorkflowLock) NonBlockingSynchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, f func(context.Context) error) error {
	if _, ok := ctx.Value(lockKey(key)).(string); ok {
		// 之前成功上锁了,可重入,继续执行即可
		return f(ctx)
	}
	value := d.getRandomValue()

	isLock, err := d.redisClient.SetNX(ctx, key, value, maxLockTimeDuration).Result()
	if err != nil {
		return errors.WithMessagef(LockFailedError, "[redisWorkflowLock.NonBlockingSynchronized] err: %v", err)
	}
	if !isLock {
		return errors.WithMessage(LockFailedError, "[redisWorkflowLock.NonBlockingSynchronized] has been locked")
	}

	withKeyCtx := context.WithValue(ctx, lockKey(key), value)
	defer d.releaseKey(key, value)
	return f(withKeyCtx)
}

func (d *redisWorkflowLock) getRandomValue() string {
	return fmt.Sprintf("%d_%d", rand.Int(), time.Now().UnixNano())
}

func (d *redisWorkflowLock) releaseKey(key string, value string) {
	// 释放锁的时候原ctx可能已经被cancel,确保释放要新开一个context
	replyInterface, err := d.redisClient.Eval(context.Background(), delCommand, []string{key}, value).Result()
	if err != nil {
		slog.Warn(fmt.Sprintf("[redisWorkflowLock.releaseKey] release key failed, err: %v", err))
		return
	}
	reply, ok := replyInterface.(int64)
	if !ok || reply != 1 {
		// 没有成功释放,大概率是锁已经超时被别人拿走了
		slog.Warn(fmt.Sprintf("[redisWorkflowLock.releaseKey] unexpected reply: %v", replyInterface))
	}
}
