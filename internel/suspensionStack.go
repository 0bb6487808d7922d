package internel

import (
	"TXC/pkg"
	"sync"

	"github.com/pkg/errors"
)

// Suspended 是被挂起的绑定, 同时作为恢复时的令牌
type Suspended struct {
	binding *Binding
	depth   int
}

func (s *Suspended) Binding() *Binding {
	return s.binding
}

// SuspensionStack 每个执行上下文一个后进先出栈
type SuspensionStack struct {
	mux    sync.Mutex
	stacks map[pkg.ContextID][]*Suspended
}

func NewSuspensionStack() *SuspensionStack {
	return &SuspensionStack{
		stacks: make(map[pkg.ContextID][]*Suspended),
	}
}

func (ss *SuspensionStack) Push(id pkg.ContextID, binding *Binding) *Suspended {
	ss.mux.Lock()
	defer ss.mux.Unlock()
	entry := &Suspended{binding: binding, depth: len(ss.stacks[id])}
	ss.stacks[id] = append(ss.stacks[id], entry)
	return entry
}

// Pop 只允许弹出栈顶, 返回的是挂起时的同一个 *Binding
func (ss *SuspensionStack) Pop(id pkg.ContextID, token *Suspended) (*Binding, error) {
	ss.mux.Lock()
	defer ss.mux.Unlock()

	stack := ss.stacks[id]
	if len(stack) == 0 {
		return nil, errors.Wrapf(pkg.ErrIllegalStateBinding, "no suspended transaction in context %s", id)
	}
	top := stack[len(stack)-1]
	if token != nil && top != token {
		return nil, errors.Wrapf(pkg.ErrIllegalStateBinding,
			"suspension out of order in context %s: top depth %d, resuming depth %d", id, top.depth, token.depth)
	}

	stack = stack[:len(stack)-1]
	if len(stack) == 0 {
		delete(ss.stacks, id)
	} else {
		ss.stacks[id] = stack
	}
	return top.binding, nil
}

// Top 返回栈顶令牌, 栈为空时返回 nil
func (ss *SuspensionStack) Top(id pkg.ContextID) *Suspended {
	ss.mux.Lock()
	defer ss.mux.Unlock()
	stack := ss.stacks[id]
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

func (ss *SuspensionStack) Depth(id pkg.ContextID) int {
	ss.mux.Lock()
	defer ss.mux.Unlock()
	return len(ss.stacks[id])
}

// Clear 丢弃上下文的整个栈, 按从栈顶到栈底的顺序返回
func (ss *SuspensionStack) Clear(id pkg.ContextID) []*Binding {
	ss.mux.Lock()
	defer ss.mux.Unlock()
	stack := ss.stacks[id]
	delete(ss.stacks, id)

	bindings := make([]*Binding, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		bindings = append(bindings, stack[i].binding)
	}
	return bindings
}
