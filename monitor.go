package TXC

import (
	"TXC/internel"
	"TXC/pkg"
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// 物理事务日志: 开启物理事务时记录, 结束时提交状态. 日志失败只告警, 不影响事务本身
func (tm *TXManager) journalBegin(ctx context.Context, id pkg.ContextID, def *pkg.TXDefinition) string {
	if tm.opts.Store == nil {
		return ""
	}
	TXId, err := tm.opts.Store.CreateTX(ctx, &pkg.PhysicalTX{
		ContextID:   id,
		Name:        def.Name,
		Propagation: def.Propagation,
		ReadOnly:    def.ReadOnly,
		Timeout:     def.Timeout(),
		TxStatus:    pkg.TXActive,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		tm.logger.Warn("Failed to journal physical transaction", zap.String("name", def.Name), zap.Error(err))
		return ""
	}
	return TXId
}

func (tm *TXManager) journalFinish(ctx context.Context, binding *internel.Binding, status pkg.TXStatus) {
	if tm.opts.Store == nil || binding.JournalID == "" {
		return
	}
	if err := tm.opts.Store.TXSubmit(ctx, binding.JournalID, status); err != nil {
		tm.logger.Warn("Failed to journal physical transaction outcome",
			zap.String("tx_id", binding.JournalID), zap.Stringer("status", status), zap.Error(err))
	}
}

// 轮询: 找出超过超时时间仍未结束的物理事务并标记为 Expired.
// 巡检只记录和告警, 资源仍由所属执行上下文负责结束
func (tm *TXManager) polling() {
	defer tm.wg.Done()

	var err error
	var tick time.Duration
	for {
		if err == nil {
			tick = tm.opts.MonitorTick
		} else {
			tick = tm.backOffTick(tick)
		}

		select {
		case <-tm.ctx.Done():
			return
		case <-time.After(tick):
			if err := tm.opts.Store.Lock(tm.ctx, tm.opts.MonitorTick); err != nil {
				continue
			}
			var txs []*pkg.PhysicalTX
			txs, err = tm.opts.Store.GetHangingTXs(tm.ctx)
			if err != nil {
				_ = tm.opts.Store.Unlock(tm.ctx)
				continue
			}
			_, err = tm.ExpireHangingTransactions(tm.ctx, txs)
			_ = tm.opts.Store.Unlock(tm.ctx)
		}
	}
}

// ExpireHangingTransactions 标记所有已超时的事务, 返回被标记的事务 id
func (tm *TXManager) ExpireHangingTransactions(ctx context.Context, txs []*pkg.PhysicalTX) ([]string, error) {
	now := time.Now()

	var (
		mux     sync.Mutex
		expired []string
		errs    error
	)
	wg := sync.WaitGroup{}
	for _, tx := range txs {
		if tx.GetStatus(now, tm.opts.Timeout) != pkg.TXExpired {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tm.opts.Store.TXSubmit(ctx, tx.TXid, pkg.TXExpired)

			mux.Lock()
			defer mux.Unlock()
			if err != nil {
				errs = multierr.Append(errs, err)
				return
			}
			expired = append(expired, tx.TXid)
			tm.metrics.expired.Inc()
			tm.logger.Warn("Physical transaction exceeded its timeout without completing",
				zap.String("tx_id", tx.TXid), zap.String("name", tx.Name),
				zap.String("context_id", string(tx.ContextID)), zap.Time("created_at", tx.CreatedAt))
		}()
	}
	wg.Wait()
	return expired, errs
}

func (tm *TXManager) backOffTick(tick time.Duration) time.Duration {
	maxTick := tm.opts.MonitorTick << 3
	tick <<= 1
	if tick > maxTick {
		tick = maxTick
	}
	return tick
}
