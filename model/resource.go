package model

import (
	"TXC/pkg"
	"context"
)

// ResourceProvider 由环境提供, 协调器只通过它获取物理资源, 从不自己创建连接
type ResourceProvider interface {
	Acquire(ctx context.Context, opts pkg.AcquireOptions) (ResourceHandle, error)
}

// ResourceHandle 代表一个物理事务, 内容对协调器不透明
type ResourceHandle interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	//提交或回滚之后调用, 归还资源
	Release(ctx context.Context) error
}

// Savepointer 是可选能力, 实现它的资源才支持 NESTED 保存点
type Savepointer interface {
	CreateSavepoint(ctx context.Context) (string, error)
	RollbackToSavepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error
}
