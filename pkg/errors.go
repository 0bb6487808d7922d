package pkg

import "errors"

// 哨兵错误不带调用栈, 调用处用 github.com/pkg/errors 的 Wrapf 补充上下文和调用栈
var (
	// MANDATORY 传播但当前没有事务
	ErrNoActiveTransaction = errors.New("no existing transaction found for transaction marked with propagation 'mandatory'")

	// NEVER 传播但当前已有事务
	ErrExistingTransactionForbidden = errors.New("existing transaction found for transaction marked with propagation 'never'")

	// 请求提交, 但事务已被内部参与者标记为 rollback-only
	ErrUnexpectedRollback = errors.New("transaction rolled back because it has been marked as rollback-only")

	// 绑定关系被破坏: 重复绑定、解绑空上下文、挂起栈顺序错乱
	ErrIllegalStateBinding = errors.New("illegal transaction binding state")

	// 句柄状态错误: 重复提交/回滚、跨上下文使用
	ErrIllegalState = errors.New("illegal transaction state")

	ErrNoExecutionContext = errors.New("context is not attached to an execution context")
	ErrInvalidDefinition  = errors.New("invalid transaction definition")
)
