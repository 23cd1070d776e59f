package workflow

import (
	"context"
	"time"
)

type WorkflowLock interface {
	// NonBlockingSynchronized
	//  @Description: 1.非阻塞同步块,拿不到锁立刻返回LockFailedError,绝不挂起等待
	//                2.同一个ctx里面可以重入
	//                key按workflow_id粒度生成,不同id的锁互不相干
	//  @param ctx 原来的ctx
	//  @param key 锁的key
	//  @param maxLockTimeDuration 锁最大持有时间,超时自动释放
	//  @param f 具体执行函数的闭包
	//  @return error
	NonBlockingSynchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, f func(context.Context) error) error
}
