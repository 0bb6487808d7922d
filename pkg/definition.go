package pkg

import (
	"time"

	"github.com/pkg/errors"
)

// TimeoutDefault 表示不设置超时
const TimeoutDefault = -1

// TXDefinition 描述一次 begin 请求, 每次调用内不可变
type TXDefinition struct {
	Name           string
	Propagation    Propagation
	Isolation      Isolation
	ReadOnly       bool
	TimeoutSeconds int

	//Transaction 包装函数使用的回滚规则
	RollbackFor   []error
	NoRollbackFor []error
}

type DefinitionOption func(def *TXDefinition)

func NewTXDefinition(opts ...DefinitionOption) *TXDefinition {
	def := &TXDefinition{
		Propagation:    PropagationRequired,
		Isolation:      IsolationDefault,
		TimeoutSeconds: TimeoutDefault,
	}
	for _, opt := range opts {
		opt(def)
	}
	return def
}

func WithName(name string) DefinitionOption {
	return func(def *TXDefinition) {
		def.Name = name
	}
}

func WithPropagation(p Propagation) DefinitionOption {
	return func(def *TXDefinition) {
		def.Propagation = p
	}
}

func WithIsolation(i Isolation) DefinitionOption {
	return func(def *TXDefinition) {
		def.Isolation = i
	}
}

func WithReadOnly(readOnly bool) DefinitionOption {
	return func(def *TXDefinition) {
		def.ReadOnly = readOnly
	}
}

func WithTimeoutSeconds(seconds int) DefinitionOption {
	return func(def *TXDefinition) {
		def.TimeoutSeconds = seconds
	}
}

func WithRollbackFor(errs ...error) DefinitionOption {
	return func(def *TXDefinition) {
		def.RollbackFor = append(def.RollbackFor, errs...)
	}
}

func WithNoRollbackFor(errs ...error) DefinitionOption {
	return func(def *TXDefinition) {
		def.NoRollbackFor = append(def.NoRollbackFor, errs...)
	}
}

func (def *TXDefinition) Validate() error {
	if !def.Propagation.Valid() {
		return errors.Wrapf(ErrInvalidDefinition, "propagation %s", def.Propagation)
	}
	if _, ok := isolationNames[def.Isolation]; !ok {
		return errors.Wrapf(ErrInvalidDefinition, "isolation %s", def.Isolation)
	}
	if def.TimeoutSeconds < TimeoutDefault {
		return errors.Wrapf(ErrInvalidDefinition, "timeout %d", def.TimeoutSeconds)
	}
	return nil
}

// Timeout 未设置时返回 0
func (def *TXDefinition) Timeout() time.Duration {
	if def.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(def.TimeoutSeconds) * time.Second
}

// RollbackOn 判断业务错误是否需要回滚: 默认所有错误都回滚,
// 命中 NoRollbackFor 的错误提交, RollbackFor 优先级更高
func (def *TXDefinition) RollbackOn(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range def.RollbackFor {
		if errors.Is(err, target) {
			return true
		}
	}
	for _, target := range def.NoRollbackFor {
		if errors.Is(err, target) {
			return false
		}
	}
	return true
}

func (def *TXDefinition) AcquireOptions() AcquireOptions {
	return AcquireOptions{
		Name:      def.Name,
		Isolation: def.Isolation,
		ReadOnly:  def.ReadOnly,
		Timeout:   def.Timeout(),
	}
}

// AcquireOptions 获取物理资源时透传的提示
type AcquireOptions struct {
	Name      string
	Isolation Isolation
	ReadOnly  bool
	Timeout   time.Duration
}
