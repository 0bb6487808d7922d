package internel

import (
	"TXC/pkg"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// RegistryCenter 保存具名的事务定义.
// 查找时越具体的名字优先: "memberService.join" 找不到时退回 "memberService"
type RegistryCenter struct {
	mux         sync.RWMutex
	definitions map[string]*pkg.TXDefinition
}

func NewRegistryCenter() *RegistryCenter {
	return &RegistryCenter{
		definitions: make(map[string]*pkg.TXDefinition),
	}
}

func (rc *RegistryCenter) Register(name string, def *pkg.TXDefinition) error {
	if name == "" {
		return errors.New("definition name can't be empty")
	}
	if def == nil {
		return errors.Errorf("definition %s is nil", name)
	}
	if err := def.Validate(); err != nil {
		return errors.Wrapf(err, "definition %s", name)
	}

	rc.mux.Lock()
	defer rc.mux.Unlock()
	if _, ok := rc.definitions[name]; ok {
		return errors.Errorf("definition %s already exists", name)
	}
	copied := *def
	if copied.Name == "" {
		copied.Name = name
	}
	rc.definitions[name] = &copied
	return nil
}

// GetDefinitionByName 返回最具体的匹配定义, 都不存在时返回 false
func (rc *RegistryCenter) GetDefinitionByName(name string) (*pkg.TXDefinition, bool) {
	rc.mux.RLock()
	defer rc.mux.RUnlock()

	for key := name; key != ""; {
		if def, ok := rc.definitions[key]; ok {
			return def, true
		}
		idx := strings.LastIndexByte(key, '.')
		if idx < 0 {
			break
		}
		key = key[:idx]
	}
	return nil, false
}
