package model

import (
	"TXC/pkg"
	"context"
	"time"
)

// TXStore 记录物理事务的开始与结束, 供巡检发现超时未结束的事务
type TXStore interface {
	CreateTX(ctx context.Context, tx *pkg.PhysicalTX) (string, error)
	TXSubmit(ctx context.Context, TXId string, status pkg.TXStatus) error
	GetHangingTXs(context.Context) ([]*pkg.PhysicalTX, error)
	GetTX(ctx context.Context, TXId string) (*pkg.PhysicalTX, error)
	Lock(ctx context.Context, duration time.Duration) error
	Unlock(ctx context.Context) error
}
