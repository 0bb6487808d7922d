package redis_lock

import (
	"time"

	"go.uber.org/zap"
)

const (
	// 未指定过期时间时使用, 同时开启看门狗
	DefaultLockExpire = 30 * time.Second
	// 阻塞模式默认等待时间
	DefaultBlockWait = 5 * time.Second
	// 看门狗续期间隔
	WatchDogStep = 10 * time.Second

	defaultRetryStep = 50 * time.Millisecond
)

type LockOptions struct {
	//为 0 时非阻塞
	blockWait    time.Duration
	retryStep    time.Duration
	expire       time.Duration
	watchDogMode bool
	watchDogStep time.Duration

	logger *zap.Logger
}

type LockOption func(c *LockOptions)

// WithBlock 抢锁失败时轮询等待, wait <= 0 使用 DefaultBlockWait
func WithBlock(wait time.Duration) LockOption {
	return func(c *LockOptions) {
		if wait <= 0 {
			wait = DefaultBlockWait
		}
		c.blockWait = wait
	}
}

func WithRetryStep(step time.Duration) LockOption {
	return func(c *LockOptions) {
		c.retryStep = step
	}
}

// WithExpire 设置锁的过期时间, redis 以秒为单位, 不足一秒按一秒处理
func WithExpire(expire time.Duration) LockOption {
	return func(c *LockOptions) {
		c.expire = expire
	}
}

// WithWatchDogStep 设置看门狗续期间隔, 只在未设置过期时间时生效
func WithWatchDogStep(step time.Duration) LockOption {
	return func(c *LockOptions) {
		c.watchDogStep = step
	}
}

// WithLogger 看门狗续期失败时使用的日志
func WithLogger(logger *zap.Logger) LockOption {
	return func(c *LockOptions) {
		c.logger = logger
	}
}

func (c *LockOptions) isBlock() bool {
	return c.blockWait > 0
}

func (c *LockOptions) expireSeconds() int64 {
	return toSeconds(c.expire)
}

func toSeconds(d time.Duration) int64 {
	seconds := int64((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func repairLockOpt(c *LockOptions) {
	if c.retryStep <= 0 {
		c.retryStep = defaultRetryStep
	}
	if c.watchDogStep <= 0 {
		c.watchDogStep = WatchDogStep
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	if c.expire > 0 {
		return
	}

	//未设置过期时间，则启用看门狗模式
	c.expire = DefaultLockExpire
	c.watchDogMode = true
}
