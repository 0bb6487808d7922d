package resource

import (
	"TXC/model"
	"TXC/pkg"
	"context"
	"database/sql"

	"gorm.io/gorm"
)

// GormProvider 每次 Acquire 开启一个数据库事务
type GormProvider struct {
	db *gorm.DB
}

func NewGormProvider(db *gorm.DB) *GormProvider {
	return &GormProvider{db: db}
}

func (p *GormProvider) Acquire(ctx context.Context, opts pkg.AcquireOptions) (model.ResourceHandle, error) {
	//超时交给数据库驱动: ctx 结束时 database/sql 会回滚事务
	cancel := func() {}
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}

	db := p.db.WithContext(ctx)
	var tx *gorm.DB
	if txOpts := sqlTxOptions(opts); txOpts != nil {
		tx = db.Begin(txOpts)
	} else {
		tx = db.Begin()
	}
	if tx.Error != nil {
		cancel()
		return nil, tx.Error
	}
	return &GormResource{tx: tx, cancel: cancel}, nil
}

func sqlTxOptions(opts pkg.AcquireOptions) *sql.TxOptions {
	if opts.Isolation == pkg.IsolationDefault && !opts.ReadOnly {
		return nil
	}
	txOpts := &sql.TxOptions{ReadOnly: opts.ReadOnly}
	switch opts.Isolation {
	case pkg.IsolationReadUncommitted:
		txOpts.Isolation = sql.LevelReadUncommitted
	case pkg.IsolationReadCommitted:
		txOpts.Isolation = sql.LevelReadCommitted
	case pkg.IsolationRepeatableRead:
		txOpts.Isolation = sql.LevelRepeatableRead
	case pkg.IsolationSerializable:
		txOpts.Isolation = sql.LevelSerializable
	default:
		txOpts.Isolation = sql.LevelDefault
	}
	return txOpts
}

type GormResource struct {
	tx     *gorm.DB
	cancel context.CancelFunc
	seq    int
}

// DB 返回绑定在该物理事务上的 *gorm.DB, 业务代码通过它读写
func (r *GormResource) DB() *gorm.DB {
	return r.tx
}

func (r *GormResource) Commit(ctx context.Context) error {
	return r.tx.Commit().Error
}

func (r *GormResource) Rollback(ctx context.Context) error {
	return r.tx.Rollback().Error
}

func (r *GormResource) Release(ctx context.Context) error {
	r.cancel()
	return nil
}

func (r *GormResource) CreateSavepoint(ctx context.Context) (string, error) {
	r.seq++
	name := pkg.BuildSavepointName(r.seq)
	if err := r.tx.SavePoint(name).Error; err != nil {
		return "", err
	}
	return name, nil
}

func (r *GormResource) RollbackToSavepoint(ctx context.Context, name string) error {
	return r.tx.RollbackTo(name).Error
}

func (r *GormResource) ReleaseSavepoint(ctx context.Context, name string) error {
	return r.tx.Exec("RELEASE SAVEPOINT " + name).Error
}

// GormDB 从资源句柄中取出 *gorm.DB, 句柄不是 gorm 资源时返回 false
func GormDB(handle model.ResourceHandle) (*gorm.DB, bool) {
	r, ok := handle.(*GormResource)
	if !ok {
		return nil, false
	}
	return r.tx, true
}
