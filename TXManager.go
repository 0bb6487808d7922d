package TXC

import (
	"TXC/internel"
	"TXC/model"
	"TXC/pkg"
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Options struct {
	//物理事务没有自身超时时, 巡检使用的默认超时
	Timeout     time.Duration
	MonitorTick time.Duration
	//巡检分布式锁的服务名
	Service string

	Logger     *zap.Logger
	Store      model.TXStore
	Registerer prometheus.Registerer

	//资源支持保存点时 NESTED 是否使用保存点
	Savepoints        bool
	DefaultDefinition *pkg.TXDefinition
}

type TXManager struct {
	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	opts           *Options
	provider       model.ResourceProvider     //物理资源提供方
	bindings       *internel.BindingRegistry  //执行上下文 -> 当前物理事务
	suspensions    *internel.SuspensionStack  //被挂起的物理事务
	registryCenter *internel.RegistryCenter   //具名事务定义
	metrics        *metrics
	logger         *zap.Logger
}

type Option func(opts *Options)

func WithTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.Timeout = timeout
	}
}

func WithMonitorTick(tick time.Duration) Option {
	return func(opts *Options) {
		opts.MonitorTick = tick
	}
}

func WithService(service string) Option {
	return func(opts *Options) {
		opts.Service = service
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithTXStore 开启物理事务日志和超时巡检
func WithTXStore(store model.TXStore) Option {
	return func(opts *Options) {
		opts.Store = store
	}
}

func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(opts *Options) {
		opts.Registerer = registerer
	}
}

func WithSavepoints(enabled bool) Option {
	return func(opts *Options) {
		opts.Savepoints = enabled
	}
}

func WithDefaultDefinition(def *pkg.TXDefinition) Option {
	return func(opts *Options) {
		opts.DefaultDefinition = def
	}
}

func NewTXManager(provider model.ResourceProvider, opts ...Option) *TXManager {
	ctx, cancel := context.WithCancel(context.Background())
	tm := &TXManager{
		ctx:            ctx,
		stop:           cancel,
		opts:           &Options{Savepoints: true},
		provider:       provider,
		bindings:       internel.NewBindingRegistry(),
		suspensions:    internel.NewSuspensionStack(),
		registryCenter: internel.NewRegistryCenter(),
	}
	for _, opt := range opts {
		opt(tm.opts)
	}

	checkOpt(tm.opts)

	tm.logger = tm.opts.Logger
	tm.metrics = newMetrics(tm.opts.Registerer)

	if tm.opts.Store != nil {
		tm.wg.Add(1)
		go tm.polling()
	}

	return tm
}

// Close 停止巡检, 不影响仍在运行的事务
func (tm *TXManager) Close() {
	tm.stop()
	tm.wg.Wait()
}

// Attach 为 ctx 创建一个新的执行上下文, 结束时必须调用 Detach
func (tm *TXManager) Attach(ctx context.Context) context.Context {
	id := pkg.NewContextID()
	tm.logger.Debug("Attached execution context", zap.String("context_id", string(id)))
	return pkg.WithContextID(ctx, id)
}

// Detach 清理执行上下文. 仍未结束的物理事务会被回滚并返回 ErrIllegalStateBinding
func (tm *TXManager) Detach(ctx context.Context) error {
	id, ok := pkg.ContextIDFrom(ctx)
	if !ok {
		return pkg.ErrNoExecutionContext
	}

	var errs error
	leaked := tm.suspensions.Clear(id)
	if binding, err := tm.bindings.Unbind(id); err == nil {
		leaked = append([]*internel.Binding{binding}, leaked...)
	}
	for _, binding := range leaked {
		tm.logger.Error("Transaction was not completed before its execution context ended, rolling back",
			zap.String("context_id", string(id)), zap.String("name", binding.Name))
		errs = multierr.Append(errs, errors.Wrapf(pkg.ErrIllegalStateBinding,
			"transaction %q was not completed in context %s", binding.Name, id))
		errs = multierr.Append(errs, tm.abandon(ctx, binding))
	}
	return errs
}

func (tm *TXManager) RegisterDefinition(name string, def *pkg.TXDefinition) error {
	return tm.registryCenter.Register(name, def)
}

// Definition 按名字查找事务定义, 找不到时返回默认定义
func (tm *TXManager) Definition(name string) *pkg.TXDefinition {
	if def, ok := tm.registryCenter.GetDefinitionByName(name); ok {
		return def
	}
	return tm.opts.DefaultDefinition
}

func (tm *TXManager) Begin(ctx context.Context, def *pkg.TXDefinition) (*Transaction, error) {
	id, ok := pkg.ContextIDFrom(ctx)
	if !ok {
		return nil, pkg.ErrNoExecutionContext
	}
	if def == nil {
		def = tm.opts.DefaultDefinition
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	current, _ := tm.bindings.Current(id)
	_, savepoints := current.Savepoints()
	action := internel.Decide(def.Propagation, current, savepoints && tm.opts.Savepoints)

	logger := tm.logger.With(
		zap.String("context_id", string(id)),
		zap.String("name", def.Name),
		zap.Stringer("propagation", def.Propagation),
	)
	tm.metrics.begins.WithLabelValues(action.Kind.String()).Inc()

	switch action.Kind {
	case internel.ActionReject:
		logger.Debug("Transaction rejected by propagation", zap.Error(action.Err))
		return nil, action.Err

	case internel.ActionParticipate:
		logger.Debug("Participating in existing transaction")
		tx := newTransaction(id, def, false)
		tx.binding = current
		tx.mark = current.Mark
		tx.mark.Join()
		return tx, nil

	case internel.ActionRunWithoutTransaction:
		logger.Debug("Creating empty transaction")
		return newTransaction(id, def, false), nil

	case internel.ActionStartNew:
		logger.Debug("Creating new transaction")
		return tm.startTransaction(ctx, id, def, nil)

	case internel.ActionSuspendAndStartNew:
		logger.Debug("Suspending current transaction", zap.String("suspended", current.Name))
		token, err := tm.suspend(id)
		if err != nil {
			return nil, err
		}
		if !action.NewTransaction {
			tx := newTransaction(id, def, false)
			tx.suspended = token
			return tx, nil
		}

		tx, err := tm.startTransaction(ctx, id, def, token)
		if err != nil {
			if rerr := tm.resume(id, token); rerr != nil {
				logger.Error("Failed to resume suspended transaction", zap.Error(rerr))
			}
			return nil, err
		}
		return tx, nil

	case internel.ActionStartNestedSavepoint:
		sp, _ := current.Savepoints()
		name, err := sp.CreateSavepoint(ctx)
		if err != nil {
			return nil, err
		}
		logger.Debug("Creating nested transaction", zap.String("savepoint", name))
		tx := newTransaction(id, def, false)
		tx.binding = current
		tx.savepoint = name
		tx.parentMark = current.Mark
		tx.mark = internel.NewRollbackMark()
		current.Mark = tx.mark
		tm.metrics.savepoints.Inc()
		return tx, nil
	}

	return nil, errors.Errorf("unsupported propagation action %s", action.Kind)
}

func (tm *TXManager) Commit(ctx context.Context, tx *Transaction) error {
	if err := tm.startCompletion(ctx, tx, stateCommitting); err != nil {
		return err
	}

	var err error
	switch {
	case tx.isNew:
		err = tm.processOwnerCommit(ctx, tx)
	case tx.savepoint != "":
		err = tm.processSavepointCommit(ctx, tx)
	case tx.binding != nil:
		//参与者的提交不影响物理事务, rollback-only 由持有者在提交时处理
		tm.logger.Debug("Participating transaction committed, deferring to the outer transaction",
			zap.String("name", tx.def.Name), zap.Bool("rollback_only", tx.mark.IsMarked()))
		tx.mark.Leave()
	}

	return tm.finishCompletion(ctx, tx, stateCommitted, err)
}

func (tm *TXManager) Rollback(ctx context.Context, tx *Transaction) error {
	if err := tm.startCompletion(ctx, tx, stateRollingBack); err != nil {
		return err
	}

	var err error
	switch {
	case tx.isNew:
		tm.logger.Debug("Initiating transaction rollback", zap.String("name", tx.def.Name))
		err = tm.rollbackPhysical(ctx, tx.binding)
	case tx.savepoint != "":
		err = tm.rollbackSavepoint(ctx, tx)
	case tx.binding != nil:
		tm.logger.Debug("Participating transaction failed - marking existing transaction as rollback-only",
			zap.String("name", tx.def.Name))
		tx.mark.Mark()
		tx.mark.Leave()
	}

	return tm.finishCompletion(ctx, tx, stateRolledBack, err)
}

// Transaction 在一个事务中执行 fn: 返回 nil 提交, 返回错误时按定义的回滚规则处理, panic 时回滚.
// ctx 没有绑定执行上下文时会在调用期间自动 Attach / Detach
func (tm *TXManager) Transaction(ctx context.Context, def *pkg.TXDefinition, fn func(ctx context.Context, tx *Transaction) error) (err error) {
	if _, ok := pkg.ContextIDFrom(ctx); !ok {
		ctx = tm.Attach(ctx)
		defer func() {
			err = multierr.Append(err, tm.Detach(ctx))
		}()
	}

	tx, err := tm.Begin(ctx, def)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if !tx.IsCompleted() {
				if rerr := tm.Rollback(ctx, tx); rerr != nil {
					tm.logger.Error("Rollback after panic failed", zap.Error(rerr))
				}
			}
			panic(r)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		if tx.IsCompleted() {
			return err
		}
		if tx.def.RollbackOn(err) {
			return multierr.Append(err, tm.Rollback(ctx, tx))
		}
		tm.logger.Debug("Error matched no-rollback rule, committing", zap.String("name", tx.def.Name), zap.Error(err))
		return multierr.Append(err, tm.Commit(ctx, tx))
	}

	if tx.IsCompleted() {
		return nil
	}
	return tm.Commit(ctx, tx)
}

// TransactionNamed 使用已注册的具名定义执行 fn
func (tm *TXManager) TransactionNamed(ctx context.Context, name string, fn func(ctx context.Context, tx *Transaction) error) error {
	return tm.Transaction(ctx, tm.Definition(name), fn)
}

func (tm *TXManager) IsActualTransactionActive(ctx context.Context) bool {
	_, ok := tm.currentBinding(ctx)
	return ok
}

func (tm *TXManager) IsCurrentTransactionReadOnly(ctx context.Context) bool {
	binding, ok := tm.currentBinding(ctx)
	return ok && binding.ReadOnly
}

func (tm *TXManager) CurrentResource(ctx context.Context) (model.ResourceHandle, bool) {
	binding, ok := tm.currentBinding(ctx)
	if !ok {
		return nil, false
	}
	return binding.Resource, true
}

// ---------------------------------------------------------------------------------------------------------------
// ----------------------------------------------TXManager非核心函数------------------------------------------------
// ---------------------------------------------------------------------------------------------------------------

func (tm *TXManager) currentBinding(ctx context.Context) (*internel.Binding, bool) {
	id, ok := pkg.ContextIDFrom(ctx)
	if !ok {
		return nil, false
	}
	return tm.bindings.Current(id)
}

// 获取新的物理资源并绑定到执行上下文
func (tm *TXManager) startTransaction(ctx context.Context, id pkg.ContextID, def *pkg.TXDefinition, token *internel.Suspended) (*Transaction, error) {
	resource, err := tm.provider.Acquire(ctx, def.AcquireOptions())
	if err != nil {
		return nil, err
	}

	tx := newTransaction(id, def, true)
	binding := &internel.Binding{
		Resource:  resource,
		Mark:      internel.NewRollbackMark(),
		OwnerID:   tx.id,
		Name:      def.Name,
		ReadOnly:  def.ReadOnly,
		Isolation: def.Isolation,
	}
	if err := tm.bindings.Bind(id, binding); err != nil {
		_ = resource.Rollback(ctx)
		_ = resource.Release(ctx)
		return nil, err
	}

	binding.JournalID = tm.journalBegin(ctx, id, def)
	tx.binding = binding
	tx.mark = binding.Mark
	tx.suspended = token
	tm.metrics.active.Inc()
	return tx, nil
}

func (tm *TXManager) suspend(id pkg.ContextID) (*internel.Suspended, error) {
	binding, err := tm.bindings.Unbind(id)
	if err != nil {
		return nil, err
	}
	tm.metrics.suspensions.Inc()
	return tm.suspensions.Push(id, binding), nil
}

func (tm *TXManager) resume(id pkg.ContextID, token *internel.Suspended) error {
	binding, err := tm.suspensions.Pop(id, token)
	if err != nil {
		return err
	}
	tm.logger.Debug("Resuming suspended transaction after completion of inner transaction",
		zap.String("context_id", string(id)), zap.String("name", binding.Name))
	return tm.bindings.Bind(id, binding)
}

// 结束前检查句柄状态和绑定顺序, 检查不通过时句柄保持 Active
func (tm *TXManager) startCompletion(ctx context.Context, tx *Transaction, next txState) error {
	if tx == nil {
		return errors.Wrap(pkg.ErrIllegalState, "nil transaction")
	}
	if id, ok := pkg.ContextIDFrom(ctx); ok && id != tx.contextID {
		return errors.Wrapf(pkg.ErrIllegalState, "transaction %s belongs to context %s, not %s", tx.id, tx.contextID, id)
	}
	if state := txState(tx.state.Load()); state != stateActive {
		return errors.Wrapf(pkg.ErrIllegalState,
			"transaction %s is already %s - do not call commit or rollback more than once per transaction", tx.id, state)
	}

	if tx.isNew {
		current, ok := tm.bindings.Current(tx.contextID)
		if !ok || current != tx.binding {
			return errors.Wrapf(pkg.ErrIllegalStateBinding, "transaction %s is not the active transaction of its context", tx.id)
		}
	}
	if tx.isNew || tx.savepoint != "" {
		if tx.binding.Mark != tx.mark {
			return errors.Wrapf(pkg.ErrIllegalStateBinding, "transaction %s still has an open nested transaction", tx.id)
		}
		if n := tx.mark.Participants(); n > 0 {
			return errors.Wrapf(pkg.ErrIllegalStateBinding, "transaction %s still has %d participating transactions", tx.id, n)
		}
	}
	if tx.suspended != nil && tm.suspensions.Top(tx.contextID) != tx.suspended {
		return errors.Wrapf(pkg.ErrIllegalStateBinding, "transaction %s completed out of order", tx.id)
	}
	if !tx.isNew && tx.suspended != nil {
		if _, ok := tm.bindings.Current(tx.contextID); ok {
			return errors.Wrapf(pkg.ErrIllegalStateBinding, "transaction %s still has an inner transaction bound", tx.id)
		}
	}

	if !tx.state.CompareAndSwap(int32(stateActive), int32(next)) {
		return errors.Wrapf(pkg.ErrIllegalState, "transaction %s completed concurrently", tx.id)
	}
	return nil
}

// 释放资源、恢复挂起的事务, 清理失败只在没有主错误时返回
func (tm *TXManager) finishCompletion(ctx context.Context, tx *Transaction, final txState, err error) error {
	var cleanupErr error
	if tx.isNew {
		if _, uerr := tm.bindings.Unbind(tx.contextID); uerr != nil {
			cleanupErr = multierr.Append(cleanupErr, uerr)
		}
		if rerr := tx.binding.Resource.Release(ctx); rerr != nil {
			cleanupErr = multierr.Append(cleanupErr, rerr)
		}
		tm.metrics.active.Dec()
	}
	if tx.suspended != nil {
		cleanupErr = multierr.Append(cleanupErr, tm.resume(tx.contextID, tx.suspended))
	}

	tx.state.Store(int32(final))

	if cleanupErr != nil {
		tm.logger.Warn("Cleanup after transaction completion failed",
			zap.String("name", tx.def.Name), zap.Error(cleanupErr))
		if err == nil {
			return cleanupErr
		}
	}
	return err
}

func (tm *TXManager) processOwnerCommit(ctx context.Context, tx *Transaction) error {
	logger := tm.logger.With(zap.String("name", tx.def.Name))

	if tx.localRollbackOnly.Load() {
		logger.Debug("Transactional code has requested rollback")
		return tm.rollbackPhysical(ctx, tx.binding)
	}

	if tx.mark.IsMarked() {
		logger.Debug("Global transaction is marked as rollback-only but transactional code requested commit")
		if err := tm.rollbackPhysical(ctx, tx.binding); err != nil {
			return err
		}
		tm.metrics.unexpectedRollbacks.Inc()
		return errors.Wrapf(pkg.ErrUnexpectedRollback, "transaction %q", tx.def.Name)
	}

	logger.Debug("Initiating transaction commit")
	if err := tx.binding.Resource.Commit(ctx); err != nil {
		return err
	}
	tm.metrics.commits.Inc()
	tm.journalFinish(ctx, tx.binding, pkg.TXCommitted)
	return nil
}

func (tm *TXManager) rollbackPhysical(ctx context.Context, binding *internel.Binding) error {
	if err := binding.Resource.Rollback(ctx); err != nil {
		return err
	}
	tm.metrics.rollbacks.Inc()
	tm.journalFinish(ctx, binding, pkg.TXRolledBack)
	return nil
}

func (tm *TXManager) processSavepointCommit(ctx context.Context, tx *Transaction) error {
	if tx.localRollbackOnly.Load() {
		return tm.rollbackSavepoint(ctx, tx)
	}
	if tx.mark.IsMarked() {
		tm.logger.Debug("Nested transaction is marked as rollback-only but transactional code requested commit",
			zap.String("name", tx.def.Name), zap.String("savepoint", tx.savepoint))
		if err := tm.rollbackSavepoint(ctx, tx); err != nil {
			return err
		}
		tm.metrics.unexpectedRollbacks.Inc()
		return errors.Wrapf(pkg.ErrUnexpectedRollback, "nested transaction %q", tx.def.Name)
	}

	sp, _ := tx.binding.Savepoints()
	tx.binding.Mark = tx.parentMark
	tm.logger.Debug("Releasing transaction savepoint", zap.String("savepoint", tx.savepoint))
	return sp.ReleaseSavepoint(ctx, tx.savepoint)
}

func (tm *TXManager) rollbackSavepoint(ctx context.Context, tx *Transaction) error {
	sp, _ := tx.binding.Savepoints()
	tx.binding.Mark = tx.parentMark
	tm.logger.Debug("Rolling back transaction to savepoint", zap.String("savepoint", tx.savepoint))
	return sp.RollbackToSavepoint(ctx, tx.savepoint)
}

// 执行上下文结束时仍未完成的物理事务
func (tm *TXManager) abandon(ctx context.Context, binding *internel.Binding) error {
	err := multierr.Append(binding.Resource.Rollback(ctx), binding.Resource.Release(ctx))
	if err == nil {
		tm.metrics.rollbacks.Inc()
		tm.journalFinish(ctx, binding, pkg.TXRolledBack)
	}
	tm.metrics.active.Dec()
	return err
}

// 检查option参数是否合法
func checkOpt(opts *Options) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MonitorTick <= 0 {
		opts.MonitorTick = 10 * time.Second
	}
	if opts.Service == "" {
		opts.Service = "txc"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DefaultDefinition == nil {
		opts.DefaultDefinition = pkg.NewTXDefinition()
	}
}
