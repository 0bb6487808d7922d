package main

import (
	"TXC"
	"TXC/DAO"
	"TXC/config"
	"TXC/internel"
	"TXC/logger"
	"TXC/resource"
	"TXC/third_party"
	"context"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Member struct {
	ID       uint   `gorm:"primaryKey"`
	Username string `gorm:"column:username;uniqueIndex"`
}

type env struct {
	tm     *TXC.TXManager
	db     *gorm.DB
	log    *zap.Logger
	client *third_party.RedisClient
}

func newEnv(ctx context.Context, configPath string) (*env, error) {
	c := config.NewDefaultConfig()
	if configPath != "" {
		var err error
		if c, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}

	log, err := logger.New(c.Log)
	if err != nil {
		return nil, err
	}

	dsn := c.DB.DSN
	if dsn == "" {
		dsn = "txdemo.db"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).AutoMigrate(&Member{}); err != nil {
		return nil, err
	}

	e := &env{db: db, log: log}
	opts := c.ManagerOptions(log)

	if c.DB.JournalDSN != "" {
		journalDB, err := gorm.Open(sqlite.Open(c.DB.JournalDSN), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		dao := DAO.NewTXRecordDAO(journalDB)
		if err := dao.AutoMigrate(ctx); err != nil {
			return nil, err
		}
		e.client = c.Redis.NewClient()
		opts = append(opts, TXC.WithTXStore(internel.NewGormTXStore(dao, e.client, c.Manager.Service, internel.WithStoreLogger(log))))
	}

	e.tm = TXC.NewTXManager(resource.NewGormProvider(db), opts...)
	if err := c.RegisterDefinitions(e.tm); err != nil {
		e.close()
		return nil, err
	}
	return e, nil
}

func (e *env) close() {
	e.tm.Close()
	if e.client != nil {
		_ = e.client.Close()
	}
	_ = e.log.Sync()
}

func (e *env) run(ctx context.Context, s scenario) error {
	ctx = e.tm.Attach(ctx)
	defer func() {
		if err := e.tm.Detach(ctx); err != nil {
			e.log.Error("execution context was not clean", zap.Error(err))
		}
	}()

	e.log.Info("-- scenario", zap.String("name", s.name))
	err := s.run(ctx, e)
	if err != nil {
		e.log.Info("-- scenario finished with error", zap.String("name", s.name), zap.Error(err))
	} else {
		e.log.Info("-- scenario finished", zap.String("name", s.name))
	}
	if s.expectErr {
		return nil
	}
	return err
}

// 在当前事务中保存一个成员
func (e *env) saveMember(ctx context.Context, username string) error {
	handle, ok := e.tm.CurrentResource(ctx)
	if !ok {
		return e.db.WithContext(ctx).Create(&Member{Username: username}).Error
	}
	db, _ := resource.GormDB(handle)
	return db.Create(&Member{Username: username}).Error
}

func (e *env) memberExists(ctx context.Context, username string) bool {
	var count int64
	e.db.WithContext(ctx).Model(&Member{}).Where("username = ?", username).Count(&count)
	return count > 0
}
