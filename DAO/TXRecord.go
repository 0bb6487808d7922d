package DAO

import (
	"TXC/pkg"
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TXRecordDAOInterface interface {
	GetTXRecords(ctx context.Context, opts ...QueryOption) ([]*TXRecordPO, error)
	CreateTXRecord(ctx context.Context, record *TXRecordPO) (uint, error)
	UpdateTXRecord(ctx context.Context, record *TXRecordPO) error
	UpdateTXStatus(ctx context.Context, id uint, status string) error
	LockAndDo(ctx context.Context, id uint, do func(ctx context.Context, dao *TXRecordDAO, record *TXRecordPO) error) error
}

type TXRecordPO struct {
	gorm.Model
	ContextID     string `gorm:"column:context_id;index"`
	Name          string `gorm:"column:name"`
	Propagation   string `gorm:"column:propagation"`
	ReadOnly      bool   `gorm:"column:read_only"`
	TimeoutMillis int64  `gorm:"column:timeout_millis"`
	Status        string `gorm:"column:status;index"`
}

func (t TXRecordPO) TableName() string {
	return "TXRecordPO"
}

func (t TXRecordPO) Timeout() time.Duration {
	return time.Duration(t.TimeoutMillis) * time.Millisecond
}

type TXRecordDAO struct {
	db *gorm.DB
}

func NewTXRecordDAO(db *gorm.DB) *TXRecordDAO {
	return &TXRecordDAO{
		db: db,
	}
}

func (dao *TXRecordDAO) AutoMigrate(ctx context.Context) error {
	return dao.db.WithContext(ctx).AutoMigrate(&TXRecordPO{})
}

func (dao *TXRecordDAO) GetTXRecords(ctx context.Context, opts ...QueryOption) ([]*TXRecordPO, error) {
	var records []*TXRecordPO
	db := dao.db.WithContext(ctx).Model(&TXRecordPO{})

	for _, opt := range opts {
		db = opt(db)
	}

	return records, db.Find(&records).Error
}

func (dao *TXRecordDAO) CreateTXRecord(ctx context.Context, record *TXRecordPO) (uint, error) {
	if err := dao.db.WithContext(ctx).Create(record).Error; err != nil {
		return 0, err
	}
	return record.ID, nil
}

func (dao *TXRecordDAO) UpdateTXRecord(ctx context.Context, record *TXRecordPO) error {
	return dao.db.WithContext(ctx).Model(&TXRecordPO{}).Where("id = ?", record.ID).Updates(record).Error
}

// 更新物理事务的状态
// 状态相同则直接返回; 已经结束的事务不允许再修改
func (dao *TXRecordDAO) UpdateTXStatus(ctx context.Context, id uint, status string) error {
	return dao.LockAndDo(ctx, id, func(ctx context.Context, dao *TXRecordDAO, record *TXRecordPO) error {
		if record.Status == status { //重复执行则直接跳过
			return nil
		}

		if pkg.TXStatus(record.Status).Finished() {
			return errors.Errorf("invalid status transition: %s -> %s, txid: %d", record.Status, status, id)
		}
		if pkg.TXStatus(status) == pkg.TXActive {
			return errors.Errorf("invalid status transition: %s -> %s, txid: %d", record.Status, status, id)
		}

		record.Status = status
		return dao.UpdateTXRecord(ctx, record)
	})
}

// 开启事务，并根据id加锁查询对应的记录，然后根据记录执行do函数操作
func (dao *TXRecordDAO) LockAndDo(ctx context.Context, id uint, do func(ctx context.Context, dao *TXRecordDAO, record *TXRecordPO) error) error {
	return dao.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := &TXRecordPO{}

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(record, id).Error; err != nil {
			return err
		}

		return do(ctx, NewTXRecordDAO(tx), record)
	})
}
