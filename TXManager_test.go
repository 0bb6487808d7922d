package TXC

import (
	"TXC/internel"
	"TXC/pkg"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errBoom = errors.New("boom")

func newTestManager(t *testing.T, mockOpts []internel.MockOption, opts ...Option) (*TXManager, *internel.MockProvider, context.Context) {
	t.Helper()
	provider := internel.NewMockProvider(mockOpts...)
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithRegisterer(prometheus.NewRegistry())}, opts...)
	tm := NewTXManager(provider, opts...)
	t.Cleanup(tm.Close)
	return tm, provider, tm.Attach(context.Background())
}

func required(name string) *pkg.TXDefinition {
	return pkg.NewTXDefinition(pkg.WithName(name))
}

func withPropagation(name string, p pkg.Propagation) *pkg.TXDefinition {
	return pkg.NewTXDefinition(pkg.WithName(name), pkg.WithPropagation(p))
}

var (
	ownerCommitted  = []internel.ResourceEvent{internel.EventAcquire, internel.EventCommit, internel.EventRelease}
	ownerRolledBack = []internel.ResourceEvent{internel.EventAcquire, internel.EventRollback, internel.EventRelease}
)

func TestCommit(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	tx, err := tm.Begin(ctx, required("tx"))
	require.NoError(t, err)
	assert.True(t, tx.IsNew())
	assert.True(t, tm.IsActualTransactionActive(ctx))

	require.NoError(t, tm.Commit(ctx, tx))
	assert.True(t, tx.IsCompleted())
	assert.Equal(t, "Committed", tx.Status())
	assert.False(t, tm.IsActualTransactionActive(ctx))
	assert.Equal(t, ownerCommitted, provider.EventsOf(1))
	require.NoError(t, tm.Detach(ctx))
}

func TestRollback(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	tx, err := tm.Begin(ctx, required("tx"))
	require.NoError(t, err)
	require.NoError(t, tm.Rollback(ctx, tx))

	assert.Equal(t, "RolledBack", tx.Status())
	assert.Equal(t, ownerRolledBack, provider.EventsOf(1))
}

func TestSequentialTransactionsUseSeparateResources(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	tx1, err := tm.Begin(ctx, required("tx1"))
	require.NoError(t, err)
	require.NoError(t, tm.Commit(ctx, tx1))

	tx2, err := tm.Begin(ctx, required("tx2"))
	require.NoError(t, err)
	require.NoError(t, tm.Rollback(ctx, tx2))

	assert.Equal(t, ownerCommitted, provider.EventsOf(1))
	assert.Equal(t, ownerRolledBack, provider.EventsOf(2))
}

func TestInnerCommit(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	assert.True(t, outer.IsNew())

	inner, err := tm.Begin(ctx, required("inner"))
	require.NoError(t, err)
	assert.False(t, inner.IsNew())
	assert.Same(t, outer.Resource(), inner.Resource())

	//参与者的提交不触碰物理资源
	require.NoError(t, tm.Commit(ctx, inner))
	assert.Equal(t, 0, provider.Count(internel.EventCommit))
	assert.True(t, tm.IsActualTransactionActive(ctx))

	require.NoError(t, tm.Commit(ctx, outer))
	assert.Equal(t, 1, provider.Count(internel.EventAcquire))
	assert.Equal(t, ownerCommitted, provider.EventsOf(1))
}

func TestOuterRollback(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	inner, err := tm.Begin(ctx, required("inner"))
	require.NoError(t, err)

	require.NoError(t, tm.Commit(ctx, inner))
	require.NoError(t, tm.Rollback(ctx, outer))

	assert.Equal(t, ownerRolledBack, provider.EventsOf(1))
}

func TestInnerRollback(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	inner, err := tm.Begin(ctx, required("inner"))
	require.NoError(t, err)

	//参与者回滚只标记 rollback-only, 物理事务保持打开
	require.NoError(t, tm.Rollback(ctx, inner))
	assert.Equal(t, 0, provider.Count(internel.EventRollback))
	assert.True(t, outer.IsRollbackOnly())
	assert.True(t, tm.IsActualTransactionActive(ctx))

	err = tm.Commit(ctx, outer)
	assert.ErrorIs(t, err, pkg.ErrUnexpectedRollback)
	assert.True(t, outer.IsCompleted())
	assert.Equal(t, ownerRolledBack, provider.EventsOf(1))
	assert.Equal(t, 0, provider.Count(internel.EventCommit))
	assert.False(t, tm.IsActualTransactionActive(ctx))
	assert.Equal(t, float64(1), testutil.ToFloat64(tm.metrics.unexpectedRollbacks))
}

func TestInnerSetRollbackOnly(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	inner, err := tm.Begin(ctx, required("inner"))
	require.NoError(t, err)

	require.NoError(t, inner.SetRollbackOnly())
	require.NoError(t, inner.SetRollbackOnly())
	require.NoError(t, tm.Commit(ctx, inner))

	assert.ErrorIs(t, tm.Commit(ctx, outer), pkg.ErrUnexpectedRollback)
	assert.Equal(t, ownerRolledBack, provider.EventsOf(1))
}

func TestOwnerSetRollbackOnly(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	tx, err := tm.Begin(ctx, required("tx"))
	require.NoError(t, err)
	require.NoError(t, tx.SetRollbackOnly())

	//持有者自己要求回滚, 不算意外回滚
	require.NoError(t, tm.Commit(ctx, tx))
	assert.Equal(t, ownerRolledBack, provider.EventsOf(1))
}

func TestRequiredChainCommitsOnce(t *testing.T) {
	for depth := 1; depth <= 5; depth++ {
		tm, provider, ctx := newTestManager(t, nil)

		txs := make([]*Transaction, 0, depth)
		for i := 0; i < depth; i++ {
			tx, err := tm.Begin(ctx, required("level"))
			require.NoError(t, err)
			assert.Equal(t, i == 0, tx.IsNew())
			txs = append(txs, tx)
		}
		for i := depth - 1; i >= 0; i-- {
			require.NoError(t, tm.Commit(ctx, txs[i]))
		}

		assert.Equal(t, 1, provider.Count(internel.EventCommit), "depth %d", depth)
		assert.Equal(t, 0, provider.Count(internel.EventRollback), "depth %d", depth)
	}
}

func TestRequiredChainAnyRollbackFailsOwner(t *testing.T) {
	for depth := 2; depth <= 5; depth++ {
		for failing := 1; failing < depth; failing++ {
			tm, provider, ctx := newTestManager(t, nil)

			txs := make([]*Transaction, 0, depth)
			for i := 0; i < depth; i++ {
				tx, err := tm.Begin(ctx, required("level"))
				require.NoError(t, err)
				txs = append(txs, tx)
			}

			var err error
			for i := depth - 1; i >= 0; i-- {
				if i == failing {
					require.NoError(t, tm.Rollback(ctx, txs[i]))
					continue
				}
				err = tm.Commit(ctx, txs[i])
			}

			assert.ErrorIs(t, err, pkg.ErrUnexpectedRollback, "depth %d failing %d", depth, failing)
			assert.Equal(t, 0, provider.Count(internel.EventCommit))
			assert.Equal(t, 1, provider.Count(internel.EventRollback))
		}
	}
}

func TestRequiresNew(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)

	inner, err := tm.Begin(ctx, withPropagation("inner", pkg.PropagationRequiresNew))
	require.NoError(t, err)
	assert.True(t, inner.IsNew())
	assert.True(t, inner.IsSuspending())
	assert.NotSame(t, outer.Resource(), inner.Resource())

	current, ok := tm.CurrentResource(ctx)
	require.True(t, ok)
	assert.Same(t, inner.Resource(), current)

	require.NoError(t, tm.Rollback(ctx, inner))

	//内部事务结束后恢复外部事务的绑定
	current, ok = tm.CurrentResource(ctx)
	require.True(t, ok)
	assert.Same(t, outer.Resource(), current)
	assert.False(t, outer.IsRollbackOnly())

	require.NoError(t, tm.Commit(ctx, outer))
	assert.Equal(t, ownerCommitted, provider.EventsOf(1))
	assert.Equal(t, ownerRolledBack, provider.EventsOf(2))
	assert.Equal(t, float64(1), testutil.ToFloat64(tm.metrics.suspensions))
}

func TestRequiresNewOuterRollbackKeepsInnerCommit(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	inner, err := tm.Begin(ctx, withPropagation("inner", pkg.PropagationRequiresNew))
	require.NoError(t, err)

	require.NoError(t, tm.Commit(ctx, inner))
	require.NoError(t, tm.Rollback(ctx, outer))

	assert.Equal(t, ownerRolledBack, provider.EventsOf(1))
	assert.Equal(t, ownerCommitted, provider.EventsOf(2))
}

func TestMandatory(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	_, err := tm.Begin(ctx, withPropagation("mandatory", pkg.PropagationMandatory))
	assert.ErrorIs(t, err, pkg.ErrNoActiveTransaction)
	assert.Empty(t, provider.Events())
	assert.False(t, tm.IsActualTransactionActive(ctx))

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	inner, err := tm.Begin(ctx, withPropagation("mandatory", pkg.PropagationMandatory))
	require.NoError(t, err)
	assert.False(t, inner.IsNew())
	assert.Same(t, outer.Resource(), inner.Resource())

	require.NoError(t, tm.Commit(ctx, inner))
	require.NoError(t, tm.Commit(ctx, outer))
	assert.Equal(t, ownerCommitted, provider.EventsOf(1))
}

func TestNever(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	empty, err := tm.Begin(ctx, withPropagation("never", pkg.PropagationNever))
	require.NoError(t, err)
	assert.False(t, empty.HasTransaction())
	assert.Nil(t, empty.Resource())
	require.NoError(t, tm.Commit(ctx, empty))
	assert.Empty(t, provider.Events())

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)

	_, err = tm.Begin(ctx, withPropagation("never", pkg.PropagationNever))
	assert.ErrorIs(t, err, pkg.ErrExistingTransactionForbidden)

	//已有事务不受影响
	current, ok := tm.CurrentResource(ctx)
	require.True(t, ok)
	assert.Same(t, outer.Resource(), current)
	assert.False(t, outer.IsRollbackOnly())
	assert.Equal(t, []internel.ResourceEvent{internel.EventAcquire}, provider.EventsOf(1))

	require.NoError(t, tm.Commit(ctx, outer))
	assert.Equal(t, ownerCommitted, provider.EventsOf(1))
}

func TestSupports(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	supports, err := tm.Begin(ctx, withPropagation("supports", pkg.PropagationSupports))
	require.NoError(t, err)
	assert.False(t, supports.HasTransaction())
	assert.False(t, tm.IsActualTransactionActive(ctx))

	//空事务中的 REQUIRED 开启新的物理事务
	inner, err := tm.Begin(ctx, required("inner"))
	require.NoError(t, err)
	assert.True(t, inner.IsNew())
	require.NoError(t, tm.Commit(ctx, inner))
	require.NoError(t, tm.Rollback(ctx, supports))
	assert.Equal(t, ownerCommitted, provider.EventsOf(1))

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	participant, err := tm.Begin(ctx, withPropagation("supports", pkg.PropagationSupports))
	require.NoError(t, err)
	assert.False(t, participant.IsNew())
	assert.True(t, participant.HasTransaction())
	require.NoError(t, tm.Rollback(ctx, participant))
	assert.ErrorIs(t, tm.Commit(ctx, outer), pkg.ErrUnexpectedRollback)
}

func TestNotSupported(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)

	plain, err := tm.Begin(ctx, withPropagation("plain", pkg.PropagationNotSupported))
	require.NoError(t, err)
	assert.False(t, plain.IsNew())
	assert.False(t, plain.HasTransaction())
	assert.True(t, plain.IsSuspending())
	assert.False(t, tm.IsActualTransactionActive(ctx))

	require.NoError(t, tm.Commit(ctx, plain))

	current, ok := tm.CurrentResource(ctx)
	require.True(t, ok)
	assert.Same(t, outer.Resource(), current)

	require.NoError(t, tm.Commit(ctx, outer))
	assert.Equal(t, ownerCommitted, provider.EventsOf(1))
	assert.Equal(t, 1, provider.Count(internel.EventAcquire))
}

func TestSuspensionPreservesRollbackOnly(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	participant, err := tm.Begin(ctx, required("participant"))
	require.NoError(t, err)
	require.NoError(t, tm.Rollback(ctx, participant))

	inner, err := tm.Begin(ctx, withPropagation("inner", pkg.PropagationRequiresNew))
	require.NoError(t, err)
	assert.False(t, inner.IsRollbackOnly())
	require.NoError(t, tm.Commit(ctx, inner))

	assert.True(t, outer.IsRollbackOnly())
	assert.ErrorIs(t, tm.Commit(ctx, outer), pkg.ErrUnexpectedRollback)
	assert.Equal(t, ownerRolledBack, provider.EventsOf(1))
	assert.Equal(t, ownerCommitted, provider.EventsOf(2))
}

func TestNestedSavepointRollback(t *testing.T) {
	tm, provider, ctx := newTestManager(t, []internel.MockOption{internel.WithSavepointSupport()})

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	nested, err := tm.Begin(ctx, withPropagation("nested", pkg.PropagationNested))
	require.NoError(t, err)
	assert.False(t, nested.IsNew())
	assert.True(t, nested.HasSavepoint())
	assert.Same(t, outer.Resource(), nested.Resource())

	require.NoError(t, tm.Rollback(ctx, nested))
	assert.False(t, outer.IsRollbackOnly())

	require.NoError(t, tm.Commit(ctx, outer))
	assert.Equal(t, []internel.ResourceEvent{
		internel.EventAcquire,
		internel.EventSavepoint,
		internel.EventRollbackSavepoint,
		internel.EventCommit,
		internel.EventRelease,
	}, provider.EventsOf(1))
	assert.Equal(t, float64(1), testutil.ToFloat64(tm.metrics.savepoints))
}

func TestNestedSavepointCommit(t *testing.T) {
	tm, provider, ctx := newTestManager(t, []internel.MockOption{internel.WithSavepointSupport()})

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	nested, err := tm.Begin(ctx, withPropagation("nested", pkg.PropagationNested))
	require.NoError(t, err)

	require.NoError(t, tm.Commit(ctx, nested))
	require.NoError(t, tm.Commit(ctx, outer))
	assert.Equal(t, []internel.ResourceEvent{
		internel.EventAcquire,
		internel.EventSavepoint,
		internel.EventReleaseSavepoint,
		internel.EventCommit,
		internel.EventRelease,
	}, provider.EventsOf(1))
}

func TestNestedScopeRollbackOnly(t *testing.T) {
	tm, provider, ctx := newTestManager(t, []internel.MockOption{internel.WithSavepointSupport()})

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	nested, err := tm.Begin(ctx, withPropagation("nested", pkg.PropagationNested))
	require.NoError(t, err)
	participant, err := tm.Begin(ctx, required("participant"))
	require.NoError(t, err)

	//保存点作用域内的参与者只影响保存点
	require.NoError(t, tm.Rollback(ctx, participant))
	assert.True(t, nested.IsRollbackOnly())
	assert.False(t, outer.IsRollbackOnly())

	assert.ErrorIs(t, tm.Commit(ctx, nested), pkg.ErrUnexpectedRollback)
	require.NoError(t, tm.Commit(ctx, outer))
	assert.Equal(t, []internel.ResourceEvent{
		internel.EventAcquire,
		internel.EventSavepoint,
		internel.EventRollbackSavepoint,
		internel.EventCommit,
		internel.EventRelease,
	}, provider.EventsOf(1))
}

func TestNestedWithoutSavepointsStartsNewResource(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	nested, err := tm.Begin(ctx, withPropagation("nested", pkg.PropagationNested))
	require.NoError(t, err)
	assert.True(t, nested.IsNew())
	assert.False(t, nested.HasSavepoint())

	require.NoError(t, tm.Rollback(ctx, nested))
	require.NoError(t, tm.Commit(ctx, outer))
	assert.Equal(t, ownerCommitted, provider.EventsOf(1))
	assert.Equal(t, ownerRolledBack, provider.EventsOf(2))
}

func TestNestedSavepointsDisabled(t *testing.T) {
	tm, provider, ctx := newTestManager(t, []internel.MockOption{internel.WithSavepointSupport()}, WithSavepoints(false))

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	nested, err := tm.Begin(ctx, withPropagation("nested", pkg.PropagationNested))
	require.NoError(t, err)
	assert.True(t, nested.IsNew())

	require.NoError(t, tm.Commit(ctx, nested))
	require.NoError(t, tm.Commit(ctx, outer))
	assert.Equal(t, 2, provider.Count(internel.EventCommit))
	assert.Equal(t, 0, provider.Count(internel.EventSavepoint))
}

func TestDoubleCompletion(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	tx, err := tm.Begin(ctx, required("tx"))
	require.NoError(t, err)
	require.NoError(t, tm.Commit(ctx, tx))

	assert.ErrorIs(t, tm.Commit(ctx, tx), pkg.ErrIllegalState)
	assert.ErrorIs(t, tm.Rollback(ctx, tx), pkg.ErrIllegalState)
	assert.ErrorIs(t, tx.SetRollbackOnly(), pkg.ErrIllegalState)
	assert.ErrorIs(t, tm.Commit(ctx, nil), pkg.ErrIllegalState)
	assert.Equal(t, ownerCommitted, provider.EventsOf(1))
}

func TestCompletionOutOfOrder(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	inner, err := tm.Begin(ctx, withPropagation("inner", pkg.PropagationRequiresNew))
	require.NoError(t, err)

	assert.ErrorIs(t, tm.Commit(ctx, outer), pkg.ErrIllegalStateBinding)
	assert.False(t, outer.IsCompleted())

	require.NoError(t, tm.Commit(ctx, inner))
	require.NoError(t, tm.Commit(ctx, outer))
	assert.Equal(t, ownerCommitted, provider.EventsOf(1))
	assert.Equal(t, ownerCommitted, provider.EventsOf(2))
}

func TestCompletionFromAnotherContext(t *testing.T) {
	tm, _, ctx := newTestManager(t, nil)

	tx, err := tm.Begin(ctx, required("tx"))
	require.NoError(t, err)

	other := tm.Attach(context.Background())
	assert.ErrorIs(t, tm.Commit(other, tx), pkg.ErrIllegalState)
	assert.False(t, tm.IsActualTransactionActive(other))

	require.NoError(t, tm.Commit(ctx, tx))
	require.NoError(t, tm.Detach(other))
}

func TestBeginRequiresExecutionContext(t *testing.T) {
	tm, provider, _ := newTestManager(t, nil)

	_, err := tm.Begin(context.Background(), required("tx"))
	assert.ErrorIs(t, err, pkg.ErrNoExecutionContext)
	assert.ErrorIs(t, tm.Detach(context.Background()), pkg.ErrNoExecutionContext)
	assert.Empty(t, provider.Events())
}

func TestBeginInvalidDefinition(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	_, err := tm.Begin(ctx, pkg.NewTXDefinition(pkg.WithTimeoutSeconds(-3)))
	assert.ErrorIs(t, err, pkg.ErrInvalidDefinition)
	assert.Empty(t, provider.Events())
}

func TestBeginDefaultDefinition(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil, WithDefaultDefinition(pkg.NewTXDefinition(pkg.WithReadOnly(true))))

	tx, err := tm.Begin(ctx, nil)
	require.NoError(t, err)
	assert.True(t, tx.IsReadOnly())
	assert.True(t, tm.IsCurrentTransactionReadOnly(ctx))
	require.NoError(t, tm.Commit(ctx, tx))
	assert.True(t, provider.AcquireOptions()[0].ReadOnly)
}

func TestAcquireOptionsArePassedThrough(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	tx, err := tm.Begin(ctx, pkg.NewTXDefinition(pkg.WithName("report"),
		pkg.WithIsolation(pkg.IsolationSerializable), pkg.WithTimeoutSeconds(7)))
	require.NoError(t, err)
	require.NoError(t, tm.Commit(ctx, tx))

	opts := provider.AcquireOptions()
	require.Len(t, opts, 1)
	assert.Equal(t, "report", opts[0].Name)
	assert.Equal(t, pkg.IsolationSerializable, opts[0].Isolation)
	assert.Equal(t, 7*time.Second, opts[0].Timeout)
}

func TestAcquireFailure(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)
	provider.AcquireErr = errBoom

	_, err := tm.Begin(ctx, required("tx"))
	assert.Equal(t, errBoom, err)
	assert.False(t, tm.IsActualTransactionActive(ctx))
	require.NoError(t, tm.Detach(ctx))
}

func TestAcquireFailureResumesSuspended(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)

	provider.AcquireErr = errBoom
	_, err = tm.Begin(ctx, withPropagation("inner", pkg.PropagationRequiresNew))
	assert.Equal(t, errBoom, err)
	provider.AcquireErr = nil

	current, ok := tm.CurrentResource(ctx)
	require.True(t, ok)
	assert.Same(t, outer.Resource(), current)

	require.NoError(t, tm.Commit(ctx, outer))
	assert.Equal(t, ownerCommitted, provider.EventsOf(1))
	require.NoError(t, tm.Detach(ctx))
}

func TestCommitFailureStillCleansUp(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	inner, err := tm.Begin(ctx, withPropagation("inner", pkg.PropagationRequiresNew))
	require.NoError(t, err)

	provider.CommitErr = errBoom
	err = tm.Commit(ctx, inner)
	assert.Equal(t, errBoom, err)
	assert.True(t, inner.IsCompleted())
	provider.CommitErr = nil

	//释放资源并恢复外部事务
	assert.Equal(t, []internel.ResourceEvent{internel.EventAcquire, internel.EventRelease}, provider.EventsOf(2))
	current, ok := tm.CurrentResource(ctx)
	require.True(t, ok)
	assert.Same(t, outer.Resource(), current)

	require.NoError(t, tm.Commit(ctx, outer))
	require.NoError(t, tm.Detach(ctx))
}

func TestRollbackFailurePropagates(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	tx, err := tm.Begin(ctx, required("tx"))
	require.NoError(t, err)

	provider.RollbackErr = errBoom
	assert.Equal(t, errBoom, tm.Rollback(ctx, tx))
	assert.False(t, tm.IsActualTransactionActive(ctx))
	assert.Equal(t, []internel.ResourceEvent{internel.EventAcquire, internel.EventRelease}, provider.EventsOf(1))
}

func TestReleaseFailureIsReported(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	tx, err := tm.Begin(ctx, required("tx"))
	require.NoError(t, err)

	provider.ReleaseErr = errBoom
	assert.ErrorIs(t, tm.Commit(ctx, tx), errBoom)
	assert.Equal(t, 1, provider.Count(internel.EventCommit))
	assert.False(t, tm.IsActualTransactionActive(ctx))
}

func TestDetachRollsBackLeakedTransactions(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	_, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	_, err = tm.Begin(ctx, withPropagation("inner", pkg.PropagationRequiresNew))
	require.NoError(t, err)

	err = tm.Detach(ctx)
	assert.ErrorIs(t, err, pkg.ErrIllegalStateBinding)
	assert.Equal(t, ownerRolledBack, provider.EventsOf(1))
	assert.Equal(t, ownerRolledBack, provider.EventsOf(2))
	assert.False(t, tm.IsActualTransactionActive(ctx))
	assert.Equal(t, float64(0), testutil.ToFloat64(tm.metrics.active))
}

func TestExecutionContextsAreIndependent(t *testing.T) {
	tm, provider, _ := newTestManager(t, nil)

	const workers = 16
	wg := sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := tm.Attach(context.Background())
			defer func() { assert.NoError(t, tm.Detach(ctx)) }()

			outer, err := tm.Begin(ctx, required("outer"))
			if !assert.NoError(t, err) {
				return
			}
			//每个上下文都有自己的物理事务, 不会参与到别的上下文
			assert.True(t, outer.IsNew())
			inner, err := tm.Begin(ctx, required("inner"))
			if !assert.NoError(t, err) {
				return
			}
			assert.False(t, inner.IsNew())
			assert.NoError(t, tm.Commit(ctx, inner))
			assert.NoError(t, tm.Commit(ctx, outer))
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, provider.Count(internel.EventAcquire))
	assert.Equal(t, workers, provider.Count(internel.EventCommit))
	assert.Equal(t, float64(workers), testutil.ToFloat64(tm.metrics.commits))
}

func TestOwnerWaitsForOpenParticipant(t *testing.T) {
	tm, provider, ctx := newTestManager(t, nil)

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	inner, err := tm.Begin(ctx, required("inner"))
	require.NoError(t, err)

	//参与者未结束时持有者不能结束物理事务
	assert.ErrorIs(t, tm.Commit(ctx, outer), pkg.ErrIllegalStateBinding)
	assert.ErrorIs(t, tm.Rollback(ctx, outer), pkg.ErrIllegalStateBinding)
	assert.False(t, outer.IsCompleted())
	assert.Equal(t, []internel.ResourceEvent{internel.EventAcquire}, provider.EventsOf(1))

	require.NoError(t, tm.Rollback(ctx, inner))
	assert.ErrorIs(t, tm.Commit(ctx, outer), pkg.ErrUnexpectedRollback)
	assert.Equal(t, ownerRolledBack, provider.EventsOf(1))
}

func TestSavepointWaitsForOpenParticipant(t *testing.T) {
	tm, provider, ctx := newTestManager(t, []internel.MockOption{internel.WithSavepointSupport()})

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	nested, err := tm.Begin(ctx, withPropagation("nested", pkg.PropagationNested))
	require.NoError(t, err)
	inner, err := tm.Begin(ctx, required("inner"))
	require.NoError(t, err)

	assert.ErrorIs(t, tm.Commit(ctx, nested), pkg.ErrIllegalStateBinding)
	assert.False(t, nested.IsCompleted())
	assert.ErrorIs(t, tm.Commit(ctx, outer), pkg.ErrIllegalStateBinding)

	require.NoError(t, tm.Rollback(ctx, inner))
	assert.ErrorIs(t, tm.Commit(ctx, nested), pkg.ErrUnexpectedRollback)
	require.NoError(t, tm.Commit(ctx, outer))
	assert.Equal(t, []internel.ResourceEvent{
		internel.EventAcquire,
		internel.EventSavepoint,
		internel.EventRollbackSavepoint,
		internel.EventCommit,
		internel.EventRelease,
	}, provider.EventsOf(1))
}

func TestParticipantsLeaveOnCompletion(t *testing.T) {
	tm, _, ctx := newTestManager(t, nil)

	outer, err := tm.Begin(ctx, required("outer"))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		inner, err := tm.Begin(ctx, withPropagation("inner", pkg.PropagationMandatory))
		require.NoError(t, err)
		assert.Equal(t, int32(1), outer.mark.Participants())
		require.NoError(t, tm.Commit(ctx, inner))
		//重复结束不会重复离开
		assert.ErrorIs(t, tm.Commit(ctx, inner), pkg.ErrIllegalState)
	}
	assert.Equal(t, int32(0), outer.mark.Participants())
	require.NoError(t, tm.Commit(ctx, outer))
}
