package config

import (
	"TXC"
	"TXC/logger"
	"TXC/model"
	"TXC/pkg"
	"TXC/third_party"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Config struct {
	Manager ManagerConfig `toml:"manager"`
	Log     logger.Config `toml:"log"`
	Redis   RedisConfig   `toml:"redis"`
	DB      DBConfig      `toml:"db"`

	//[definitions."memberService.join"] propagation = "REQUIRES_NEW"
	Definitions map[string]map[string]interface{} `toml:"definitions"`
}

type ManagerConfig struct {
	Service     string        `toml:"service"`
	Timeout     time.Duration `toml:"timeout"`
	MonitorTick time.Duration `toml:"monitor_tick"`
	Savepoints  bool          `toml:"savepoints"`
}

type RedisConfig struct {
	Network  string `toml:"network"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`

	MaxIdle     int           `toml:"max_idle"`
	MaxActive   int           `toml:"max_active"`
	IdleTimeout time.Duration `toml:"idle_timeout"`
	Wait        bool          `toml:"wait"`
}

// NewClient 创建巡检锁和 redis 资源共用的连接池, 未配置的参数使用连接池默认值
func (r RedisConfig) NewClient() *third_party.RedisClient {
	return third_party.NewClient(r.Network, r.Addr, r.Password,
		third_party.WithPoolSize(r.MaxIdle, r.MaxActive),
		third_party.WithIdleTimeout(r.IdleTimeout),
		third_party.WithWait(r.Wait))
}

type DBConfig struct {
	//为空时不开启物理事务日志
	JournalDSN string `toml:"journal_dsn"`
	DSN        string `toml:"dsn"`
}

func NewDefaultConfig() *Config {
	return &Config{
		Manager: ManagerConfig{
			Service:     "txc",
			Timeout:     10 * time.Second,
			MonitorTick: 10 * time.Second,
			Savepoints:  true,
		},
		Log: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stdout",
		},
		Redis: RedisConfig{
			Network: "tcp",
			Addr:    "127.0.0.1:6379",
		},
	}
}

// Load 在默认配置上覆盖文件中出现的字段
func Load(path string) (*Config, error) {
	c := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, errors.Wrapf(err, "decode config %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Manager.Timeout <= 0 {
		return errors.Wrap(ErrInvalidConfig, "manager timeout must be greater than 0")
	}
	if c.Manager.MonitorTick <= 0 {
		return errors.Wrap(ErrInvalidConfig, "manager monitor_tick must be greater than 0")
	}
	_, err := c.TXDefinitions()
	return err
}

// TXDefinitions 按名字排序返回配置中的事务定义
func (c *Config) TXDefinitions() ([]*pkg.TXDefinition, error) {
	names := make([]string, 0, len(c.Definitions))
	for name := range c.Definitions {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]*pkg.TXDefinition, 0, len(names))
	for _, name := range names {
		entity := &model.DefinitionEntity{Name: name, Attributes: c.Definitions[name]}
		def, err := entity.ToDefinition()
		if err != nil {
			return nil, errors.Wrapf(err, "definition %s", name)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (c *Config) ManagerOptions(log *zap.Logger) []TXC.Option {
	return []TXC.Option{
		TXC.WithService(c.Manager.Service),
		TXC.WithTimeout(c.Manager.Timeout),
		TXC.WithMonitorTick(c.Manager.MonitorTick),
		TXC.WithSavepoints(c.Manager.Savepoints),
		TXC.WithLogger(log),
	}
}

func (c *Config) RegisterDefinitions(tm *TXC.TXManager) error {
	defs, err := c.TXDefinitions()
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := tm.RegisterDefinition(def.Name, def); err != nil {
			return err
		}
	}
	return nil
}
