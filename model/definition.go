package model

import (
	"TXC/pkg"

	"github.com/demdxx/gocast"
)

//事务定义的松散结构, 来自配置文件或请求参数

type DefinitionEntity struct {
	//定义名称, 如 "memberService.join"
	Name string `json:"name" form:"name" toml:"name"`
	//定义参数: propagation / isolation / read_only / timeout
	Attributes map[string]interface{} `json:"attributes" form:"attributes" toml:"attributes"`
}

func (e *DefinitionEntity) ToDefinition() (*pkg.TXDefinition, error) {
	def := pkg.NewTXDefinition(pkg.WithName(e.Name))

	if v, ok := e.Attributes["propagation"]; ok {
		p, err := pkg.ParsePropagation(gocast.ToString(v))
		if err != nil {
			return nil, err
		}
		def.Propagation = p
	}

	if v, ok := e.Attributes["isolation"]; ok {
		i, err := pkg.ParseIsolation(gocast.ToString(v))
		if err != nil {
			return nil, err
		}
		def.Isolation = i
	}

	if v, ok := e.Attributes["read_only"]; ok {
		def.ReadOnly = gocast.ToBool(v)
	}

	if v, ok := e.Attributes["timeout"]; ok {
		def.TimeoutSeconds = gocast.ToInt(v)
	}

	return def, def.Validate()
}
