package TXC

import (
	"TXC/internel"
	"TXC/model"
	"TXC/pkg"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type txState int32

const (
	stateActive txState = iota
	stateCommitting
	stateRollingBack
	stateCommitted
	stateRolledBack
)

func (s txState) String() string {
	switch s {
	case stateActive:
		return "Active"
	case stateCommitting:
		return "Committing"
	case stateRollingBack:
		return "RollingBack"
	case stateCommitted:
		return "Committed"
	case stateRolledBack:
		return "RolledBack"
	default:
		return "Unknown"
	}
}

// Transaction 是 Begin 返回的逻辑事务句柄, 必须且只能调用一次 Commit 或 Rollback.
// 多个逻辑事务可以对应同一个物理事务, 只有 IsNew 的句柄负责结束物理事务
type Transaction struct {
	id        string
	contextID pkg.ContextID
	def       *pkg.TXDefinition
	isNew     bool

	//没有事务运行时为 nil
	binding *internel.Binding
	//所在作用域共享的 rollback-only 标记
	mark *internel.RollbackMark

	//NESTED 保存点
	savepoint  string
	parentMark *internel.RollbackMark

	suspended *internel.Suspended

	localRollbackOnly atomic.Bool
	state             atomic.Int32
}

func newTransaction(id pkg.ContextID, def *pkg.TXDefinition, isNew bool) *Transaction {
	return &Transaction{
		id:        uuid.NewString(),
		contextID: id,
		def:       def,
		isNew:     isNew,
	}
}

func (tx *Transaction) ID() string {
	return tx.id
}

func (tx *Transaction) ContextID() pkg.ContextID {
	return tx.contextID
}

func (tx *Transaction) Definition() *pkg.TXDefinition {
	return tx.def
}

// IsNew 表示该句柄持有物理事务
func (tx *Transaction) IsNew() bool {
	return tx.isNew
}

// HasTransaction 为 false 时是 SUPPORTS / NOT_SUPPORTED / NEVER 下的空事务
func (tx *Transaction) HasTransaction() bool {
	return tx.binding != nil
}

func (tx *Transaction) HasSavepoint() bool {
	return tx.savepoint != ""
}

func (tx *Transaction) IsSuspending() bool {
	return tx.suspended != nil
}

func (tx *Transaction) IsReadOnly() bool {
	return tx.def.ReadOnly
}

// Resource 返回所在物理事务的资源, 空事务返回 nil
func (tx *Transaction) Resource() model.ResourceHandle {
	if tx.binding == nil {
		return nil
	}
	return tx.binding.Resource
}

func (tx *Transaction) IsRollbackOnly() bool {
	if tx.localRollbackOnly.Load() {
		return true
	}
	return tx.mark != nil && tx.mark.IsMarked()
}

// SetRollbackOnly 标记整个作用域只能回滚, 不可撤销
func (tx *Transaction) SetRollbackOnly() error {
	if txState(tx.state.Load()) != stateActive {
		return errors.Wrapf(pkg.ErrIllegalState, "transaction %s is %s", tx.id, tx.Status())
	}
	tx.localRollbackOnly.Store(true)
	if tx.mark != nil {
		tx.mark.Mark()
	}
	return nil
}

func (tx *Transaction) IsCompleted() bool {
	s := txState(tx.state.Load())
	return s == stateCommitted || s == stateRolledBack
}

func (tx *Transaction) Status() string {
	return txState(tx.state.Load()).String()
}
