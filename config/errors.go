package config

import "errors"

// ErrInvalidConfig 配置项取值非法
var ErrInvalidConfig = errors.New("invalid config")
