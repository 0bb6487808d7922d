package pkg

import (
	"fmt"

	"github.com/pkg/errors"
)

//传播行为与隔离级别的全局定义

type Propagation int

const (
	PropagationRequired Propagation = iota
	PropagationRequiresNew
	PropagationNested
	PropagationSupports
	PropagationNotSupported
	PropagationMandatory
	PropagationNever
)

var propagationNames = map[Propagation]string{
	PropagationRequired:     "REQUIRED",
	PropagationRequiresNew:  "REQUIRES_NEW",
	PropagationNested:       "NESTED",
	PropagationSupports:     "SUPPORTS",
	PropagationNotSupported: "NOT_SUPPORTED",
	PropagationMandatory:    "MANDATORY",
	PropagationNever:        "NEVER",
}

func (p Propagation) String() string {
	if name, ok := propagationNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Propagation(%d)", int(p))
}

func (p Propagation) Valid() bool {
	_, ok := propagationNames[p]
	return ok
}

// ParsePropagation 接受 "REQUIRES_NEW" / "requires_new" 这类写法
func ParsePropagation(name string) (Propagation, error) {
	for p, n := range propagationNames {
		if equalFoldName(n, name) {
			return p, nil
		}
	}
	return PropagationRequired, errors.Wrapf(ErrInvalidDefinition, "unknown propagation: %q", name)
}

// Isolation 只是透传给资源的提示, 协调器本身不解释
type Isolation int

const (
	IsolationDefault Isolation = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

var isolationNames = map[Isolation]string{
	IsolationDefault:         "DEFAULT",
	IsolationReadUncommitted: "READ_UNCOMMITTED",
	IsolationReadCommitted:   "READ_COMMITTED",
	IsolationRepeatableRead:  "REPEATABLE_READ",
	IsolationSerializable:    "SERIALIZABLE",
}

func (i Isolation) String() string {
	if name, ok := isolationNames[i]; ok {
		return name
	}
	return fmt.Sprintf("Isolation(%d)", int(i))
}

func ParseIsolation(name string) (Isolation, error) {
	if name == "" {
		return IsolationDefault, nil
	}
	for i, n := range isolationNames {
		if equalFoldName(n, name) {
			return i, nil
		}
	}
	return IsolationDefault, errors.Wrapf(ErrInvalidDefinition, "unknown isolation: %q", name)
}

// 大小写不敏感, 并且把 '-' 视作 '_'
func equalFoldName(canonical, name string) bool {
	if len(canonical) != len(name) {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c == '-' {
			c = '_'
		}
		if c != canonical[i] {
			return false
		}
	}
	return true
}
