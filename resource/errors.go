package resource

import "errors"

var (
	// EXEC 返回空, 事务被 redis 放弃
	ErrTXAborted = errors.New("redis transaction aborted")
	// MULTI 之后的命令没有进入事务队列
	ErrNotQueued = errors.New("redis command not queued")
)
