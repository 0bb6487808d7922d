package internel

import (
	"TXC/pkg"
	"sync"

	"github.com/pkg/errors"
)

// BindingRegistry 记录 执行上下文 -> 当前物理事务, 每个上下文最多一个
type BindingRegistry struct {
	mux      sync.RWMutex
	bindings map[pkg.ContextID]*Binding
}

func NewBindingRegistry() *BindingRegistry {
	return &BindingRegistry{
		bindings: make(map[pkg.ContextID]*Binding),
	}
}

func (br *BindingRegistry) Bind(id pkg.ContextID, binding *Binding) error {
	if binding == nil {
		return errors.Wrapf(pkg.ErrIllegalStateBinding, "nil binding for context %s", id)
	}

	br.mux.Lock()
	defer br.mux.Unlock()
	if _, ok := br.bindings[id]; ok {
		return errors.Wrapf(pkg.ErrIllegalStateBinding, "context %s already bound", id)
	}
	br.bindings[id] = binding
	return nil
}

func (br *BindingRegistry) Current(id pkg.ContextID) (*Binding, bool) {
	br.mux.RLock()
	defer br.mux.RUnlock()
	binding, ok := br.bindings[id]
	return binding, ok
}

func (br *BindingRegistry) Unbind(id pkg.ContextID) (*Binding, error) {
	br.mux.Lock()
	defer br.mux.Unlock()
	binding, ok := br.bindings[id]
	if !ok {
		return nil, errors.Wrapf(pkg.ErrIllegalStateBinding, "context %s is not bound", id)
	}
	delete(br.bindings, id)
	return binding, nil
}

func (br *BindingRegistry) Len() int {
	br.mux.RLock()
	defer br.mux.RUnlock()
	return len(br.bindings)
}
