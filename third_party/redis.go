package third_party

import (
	"context"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
)

// LockClient 是分布式锁需要的最小命令集
type LockClient interface {
	SetNXWithEX(ctx context.Context, key, value string, expiration int64) (int64, error)
	Eval(ctx context.Context, src string, keyCount int, keyAndArgs []interface{}) (interface{}, error)
}

type RedisClient struct {
	ClientOptions
	pool *redis.Pool
}

func NewClient(network, address, password string, opts ...ClientOption) *RedisClient {
	client := &RedisClient{
		ClientOptions: ClientOptions{
			network:  network,
			address:  address,
			password: password,
		},
	}

	for _, opt := range opts {
		opt(&client.ClientOptions)
	}

	client.ClientOptions.repair()

	client.pool = client.newPool()
	return client
}

func (c *RedisClient) newPool() *redis.Pool {
	return &redis.Pool{
		MaxIdle:     c.maxIdle,
		MaxActive:   c.maxActive,
		IdleTimeout: c.idleTimeout,
		Wait:        c.wait,
		Dial:        c.dial,
		TestOnBorrow: func(conn redis.Conn, t time.Time) error {
			//最近一分钟内用过的连接不再检查
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := conn.Do("PING")
			return err
		},
	}
}

func (c *RedisClient) dial() (redis.Conn, error) {
	if c.address == "" {
		return nil, errors.New("redis address is empty")
	}

	var dialOpts []redis.DialOption
	if len(c.password) > 0 {
		dialOpts = append(dialOpts, redis.DialPassword(c.password))
	}
	return redis.Dial(c.network, c.address, dialOpts...)
}

// GetConn 取出一条独占连接, 调用方负责 Close 归还
func (c *RedisClient) GetConn(ctx context.Context) (redis.Conn, error) {
	return c.pool.GetContext(ctx)
}

func (c *RedisClient) Close() error {
	return c.pool.Close()
}

// SetNXWithEX 设置成功返回 1, key 已存在返回 0
func (c *RedisClient) SetNXWithEX(ctx context.Context, key, value string, expirationSeconds int64) (int64, error) {
	if key == "" || value == "" {
		return -1, errors.New("SETNXWithEX: redis key or value can't be empty")
	}
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return -1, err
	}
	defer conn.Close()

	resp, err := conn.Do("SET", key, value, "EX", expirationSeconds, "NX")
	if err != nil {
		return -1, err
	}
	if respStr, ok := resp.(string); ok && strings.EqualFold(respStr, "ok") {
		return 1, nil
	}
	//NX 未设置成功时返回 nil
	if resp == nil {
		return 0, nil
	}
	return redis.Int64(resp, nil)
}

func (c *RedisClient) Eval(ctx context.Context, src string, keyCount int, keyAndArgs []interface{}) (interface{}, error) {
	args := make([]interface{}, 0, len(keyAndArgs)+2)
	args = append(args, src, keyCount)
	args = append(args, keyAndArgs...)

	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return conn.Do("EVAL", args...)
}
