package internel

import (
	"TXC/DAO"
	"TXC/pkg"
	"TXC/redis_lock"
	"TXC/third_party"
	"context"
	"sync"
	"time"

	"github.com/demdxx/gocast"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// GormTXStore 把物理事务日志写入数据库, 巡检锁使用 redis 分布式锁
type GormTXStore struct {
	dao DAO.TXRecordDAOInterface

	client  third_party.LockClient
	lockKey string

	mux  sync.Mutex
	lock *redis_lock.RedisLock

	logger *zap.Logger
}

type StoreOption func(m *GormTXStore)

// WithStoreLogger 巡检锁的看门狗使用的日志
func WithStoreLogger(logger *zap.Logger) StoreOption {
	return func(m *GormTXStore) {
		m.logger = logger
	}
}

func NewGormTXStore(dao DAO.TXRecordDAOInterface, client third_party.LockClient, service string, opts ...StoreOption) *GormTXStore {
	m := &GormTXStore{
		dao:     dao,
		client:  client,
		lockKey: pkg.BuildMonitorLockKey(service),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *GormTXStore) CreateTX(ctx context.Context, tx *pkg.PhysicalTX) (string, error) {
	txID, err := m.dao.CreateTXRecord(ctx, &DAO.TXRecordPO{
		ContextID:     string(tx.ContextID),
		Name:          tx.Name,
		Propagation:   tx.Propagation.String(),
		ReadOnly:      tx.ReadOnly,
		TimeoutMillis: tx.Timeout.Milliseconds(),
		Status:        pkg.TXActive.String(),
	})
	if err != nil {
		return "", err
	}
	return gocast.ToString(txID), nil
}

func (m *GormTXStore) TXSubmit(ctx context.Context, TXId string, status pkg.TXStatus) error {
	return m.dao.UpdateTXStatus(ctx, gocast.ToUint(TXId), status.String())
}

// GetHangingTXs 返回所有未结束的物理事务
func (m *GormTXStore) GetHangingTXs(ctx context.Context) ([]*pkg.PhysicalTX, error) {
	records, err := m.dao.GetTXRecords(ctx, DAO.WithStatus(pkg.TXActive))
	if err != nil {
		return nil, err
	}

	txs := make([]*pkg.PhysicalTX, 0, len(records))
	for _, record := range records {
		txs = append(txs, toPhysicalTX(record))
	}
	return txs, nil
}

func (m *GormTXStore) GetTX(ctx context.Context, TXId string) (*pkg.PhysicalTX, error) {
	records, err := m.dao.GetTXRecords(ctx, DAO.WithID(gocast.ToUint(TXId)))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.Errorf("transaction record %s does not exist", TXId)
	}
	return toPhysicalTX(records[0]), nil
}

func (m *GormTXStore) Lock(ctx context.Context, duration time.Duration) error {
	lock := redis_lock.NewRedisLock(m.lockKey, m.client,
		redis_lock.WithExpire(duration), redis_lock.WithLogger(m.logger))
	if err := lock.Lock(ctx); err != nil {
		return err
	}

	m.mux.Lock()
	m.lock = lock
	m.mux.Unlock()
	return nil
}

func (m *GormTXStore) Unlock(ctx context.Context) error {
	m.mux.Lock()
	lock := m.lock
	m.lock = nil
	m.mux.Unlock()

	if lock == nil {
		return errors.Errorf("monitor lock %s is not held", m.lockKey)
	}
	return lock.Unlock(ctx)
}

func toPhysicalTX(record *DAO.TXRecordPO) *pkg.PhysicalTX {
	propagation, _ := pkg.ParsePropagation(record.Propagation)
	return &pkg.PhysicalTX{
		TXid:        gocast.ToString(record.ID),
		ContextID:   pkg.ContextID(record.ContextID),
		Name:        record.Name,
		Propagation: propagation,
		ReadOnly:    record.ReadOnly,
		Timeout:     record.Timeout(),
		TxStatus:    pkg.TXStatus(record.Status),
		CreatedAt:   record.CreatedAt,
	}
}
