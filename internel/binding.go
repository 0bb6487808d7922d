package internel

import (
	"TXC/model"
	"TXC/pkg"
	"sync/atomic"
)

// RollbackMark 是同一物理事务(或同一保存点作用域)内所有逻辑事务共享的状态:
// rollback-only 标记只能从 false 变成 true; participants 是仍未结束的参与者数量
type RollbackMark struct {
	marked       atomic.Bool
	participants atomic.Int32
}

func NewRollbackMark() *RollbackMark {
	return &RollbackMark{}
}

func (m *RollbackMark) Mark() {
	m.marked.Store(true)
}

func (m *RollbackMark) IsMarked() bool {
	return m.marked.Load()
}

// Join 登记一个加入作用域的参与者, 作用域的持有者必须等它结束
func (m *RollbackMark) Join() {
	m.participants.Add(1)
}

func (m *RollbackMark) Leave() {
	m.participants.Add(-1)
}

// Participants 返回仍未结束的参与者数量
func (m *RollbackMark) Participants() int32 {
	return m.participants.Load()
}

// Binding 是执行上下文当前绑定的物理事务
type Binding struct {
	Resource model.ResourceHandle
	//当前作用域的 rollback-only 标记, 进入保存点时会临时替换
	Mark *RollbackMark

	//持有物理事务的逻辑事务 id
	OwnerID   string
	Name      string
	ReadOnly  bool
	Isolation pkg.Isolation
	//事务日志中的 id, 未开启日志时为空
	JournalID string
}

// Savepoints 判断绑定的资源是否支持保存点
func (b *Binding) Savepoints() (model.Savepointer, bool) {
	if b == nil || b.Resource == nil {
		return nil, false
	}
	sp, ok := b.Resource.(model.Savepointer)
	return sp, ok
}
