package resource

import (
	"TXC/model"
	"TXC/pkg"
	"TXC/third_party"
	"context"

	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
)

// RedisProvider 用 MULTI/EXEC 表示一个物理事务, 不支持保存点.
// 隔离级别和只读提示对 redis 没有意义, 直接忽略
type RedisProvider struct {
	client *third_party.RedisClient
}

func NewRedisProvider(client *third_party.RedisClient) *RedisProvider {
	return &RedisProvider{client: client}
}

func (p *RedisProvider) Acquire(ctx context.Context, opts pkg.AcquireOptions) (model.ResourceHandle, error) {
	conn, err := p.client.GetConn(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Do("MULTI"); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &RedisResource{conn: conn}, nil
}

type RedisResource struct {
	conn    redis.Conn
	queued  int
	results []interface{}
}

// Do 把命令加入事务队列, 提交时才真正执行
func (r *RedisResource) Do(command string, args ...interface{}) error {
	reply, err := redis.String(r.conn.Do(command, args...))
	if err != nil {
		return err
	}
	if reply != "QUEUED" {
		return errors.Wrapf(ErrNotQueued, "command %s replied %s", command, reply)
	}
	r.queued++
	return nil
}

func (r *RedisResource) Queued() int {
	return r.queued
}

// Results 返回 EXEC 的结果, 顺序与 Do 的调用顺序一致
func (r *RedisResource) Results() []interface{} {
	return r.results
}

func (r *RedisResource) Commit(ctx context.Context) error {
	results, err := redis.Values(r.conn.Do("EXEC"))
	if errors.Is(err, redis.ErrNil) {
		return ErrTXAborted
	}
	if err != nil {
		return err
	}
	r.results = results
	return nil
}

func (r *RedisResource) Rollback(ctx context.Context) error {
	_, err := r.conn.Do("DISCARD")
	return err
}

func (r *RedisResource) Release(ctx context.Context) error {
	return r.conn.Close()
}
