package pkg

import (
	"context"

	"github.com/google/uuid"
)

// ContextID 标识一个执行上下文, 每个上下文同一时刻最多绑定一个事务
type ContextID string

func NewContextID() ContextID {
	return ContextID(uuid.NewString())
}

type contextIDKey struct{}

func WithContextID(ctx context.Context, id ContextID) context.Context {
	return context.WithValue(ctx, contextIDKey{}, id)
}

func ContextIDFrom(ctx context.Context) (ContextID, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(contextIDKey{}).(ContextID)
	return id, ok && id != ""
}
