package redis_lock

import (
	"TXC/third_party"
	"context"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const RedisLockKeyPrePrefix = "REDIS_LOCK_PREFIX"

// RedisLock 基于 SET NX EX 的分布式锁, 解锁和续期通过 lua 脚本校验持有者
type RedisLock struct {
	key    string
	token  string
	client third_party.LockClient

	LockOptions

	//看门狗运作标识
	runningDog int32
	//停止看门狗
	stopDog context.CancelFunc
}

func NewRedisLock(key string, client third_party.LockClient, opts ...LockOption) *RedisLock {
	r := &RedisLock{
		key:    key,
		client: client,
		token:  newLockToken(),
	}

	for _, opt := range opts {
		opt(&r.LockOptions)
	}

	repairLockOpt(&r.LockOptions)

	return r
}

func (r *RedisLock) Lock(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			return
		}

		//在加锁成功下启动看门狗模式
		r.startWatchDog(ctx)
	}()

	err = r.tryLock(ctx)
	if err == nil {
		return nil
	}

	//非阻塞模式或错误不可重试时直接返回
	if !r.isBlock() || !IsRetryableErr(err) {
		return err
	}

	//抢锁失败, 进入轮询阻塞
	return r.blockingLock(ctx)
}

func (r *RedisLock) tryLock(ctx context.Context) error {
	resp, err := r.client.SetNXWithEX(ctx, r.getLockKey(), r.token, r.expireSeconds())
	if err != nil {
		return err
	}
	if resp != 1 {
		return errors.Wrapf(ErrLockInUse, "reply: %d", resp)
	}
	return nil
}

func (r *RedisLock) startWatchDog(ctx context.Context) {
	if !r.watchDogMode {
		return
	}

	//同一把锁只允许一个看门狗
	if !atomic.CompareAndSwapInt32(&r.runningDog, 0, 1) {
		return
	}

	ctx, r.stopDog = context.WithCancel(ctx)

	go func() {
		defer atomic.StoreInt32(&r.runningDog, 0)
		r.watchDogRunning(ctx)
	}()
}

func (r *RedisLock) watchDogRunning(ctx context.Context) {
	ticker := time.NewTicker(r.watchDogStep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			//续期时间额外增加5s, 避免网络时延导致锁提前过期
			if err := r.DelayExpire(ctx, r.watchDogStep+5*time.Second); err != nil {
				r.logger.Warn("redis_lock: watch dog failed to delay expire", zap.String("key", r.getLockKey()), zap.Error(err))
			}
		}
	}
}

// DelayExpire 更新锁的过期时间, 基于lua脚本保证只有持有者能续期
func (r *RedisLock) DelayExpire(ctx context.Context, expire time.Duration) error {
	expireSeconds := toSeconds(expire)
	keysAndArgs := []interface{}{r.getLockKey(), r.token, expireSeconds}

	reply, err := r.client.Eval(ctx, third_party.LuaRenewLock, 1, keysAndArgs)
	if err != nil {
		return err
	}
	if ret, _ := reply.(int64); ret != 1 {
		return errors.Wrapf(ErrLockNotHeld, "fail to delay expired key:%s expire:%d", r.getLockKey(), expireSeconds)
	}
	return nil
}

func (r *RedisLock) blockingLock(ctx context.Context) error {
	timeoutCh := time.After(r.blockWait)

	ticker := time.NewTicker(r.retryStep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "ctx done, lock failed")
		case <-timeoutCh:
			return errors.Wrap(ErrLockInUse, "block wait timeout")
		case <-ticker.C:
			err := r.tryLock(ctx)
			if err == nil {
				return nil
			}
			if !IsRetryableErr(err) {
				return err
			}
		}
	}
}

func (r *RedisLock) Unlock(ctx context.Context) error {
	defer func() {
		if r.stopDog != nil {
			r.stopDog()
		}
	}()

	keysAndArgs := []interface{}{r.getLockKey(), r.token}

	resp, err := r.client.Eval(ctx, third_party.LuaReleaseLock, 1, keysAndArgs)
	if err != nil {
		return err
	}
	if ret, _ := resp.(int64); ret != 1 {
		return errors.Wrapf(ErrLockNotHeld, "fail to unlock key:%s", r.getLockKey())
	}
	return nil
}

func (r *RedisLock) getLockKey() string {
	return RedisLockKeyPrePrefix + r.key
}

//------------------------------------------------------------
//---------------------------tool函数--------------------------
//------------------------------------------------------------

// 判断当前错误是否由锁被占用引起的
func IsRetryableErr(err error) bool {
	return errors.Is(err, ErrLockInUse)
}

// 进程号 + 随机串, 区分同一进程内的不同锁实例
func newLockToken() string {
	return fmt.Sprintf("%s-%s", strconv.Itoa(os.Getpid()), uuid.NewString())
}
