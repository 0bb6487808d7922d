package third_party

import "time"

const (
	DefaultIdleTimeout       = 10 * time.Second
	DefaultMaxConnection     = 100
	DefaultMaxIdleConnection = 20
)

type ClientOptions struct {
	network  string
	address  string
	password string

	//连接池参数
	maxIdle     int
	maxActive   int
	idleTimeout time.Duration
	wait        bool
}

type ClientOption func(c *ClientOptions)

// WithPoolSize 设置最大空闲连接数和最大连接数, 非正数使用默认值
func WithPoolSize(maxIdle, maxActive int) ClientOption {
	return func(c *ClientOptions) {
		c.maxIdle = maxIdle
		c.maxActive = maxActive
	}
}

func WithIdleTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientOptions) {
		c.idleTimeout = timeout
	}
}

// WithWait 连接用满时 GetConn 阻塞等待归还, 否则直接返回错误
func WithWait(wait bool) ClientOption {
	return func(c *ClientOptions) {
		c.wait = wait
	}
}

func (c *ClientOptions) repair() {
	if c.network == "" {
		c.network = "tcp"
	}
	if c.maxActive <= 0 {
		c.maxActive = DefaultMaxConnection
	}
	if c.maxIdle <= 0 {
		c.maxIdle = DefaultMaxIdleConnection
	}
	//空闲连接数不超过最大连接数
	if c.maxIdle > c.maxActive {
		c.maxIdle = c.maxActive
	}
	if c.idleTimeout <= 0 {
		c.idleTimeout = DefaultIdleTimeout
	}
}
