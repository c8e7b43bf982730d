// Package plugins 汇总内置插件表。配置中的插件标识符先在这里查找，
// 未命中时才交给外部共享对象加载器。
package plugins

import (
	"dumbo/internal/plugins/checkpoint"
	"dumbo/internal/plugins/eventbus"
	"dumbo/internal/plugins/filelog"
	"dumbo/internal/plugins/fullft"
	"dumbo/internal/plugins/lora"
	"dumbo/internal/plugins/redstream"
	"dumbo/internal/plugins/sft"
	"dumbo/internal/plugins/tabular"
	"dumbo/internal/plugins/template"
	"dumbo/internal/plugins/tracker"
	"dumbo/pkg/plugin"
)

// Builtins 返回标识符到内置插件工厂的映射。每次调用返回新表，
// 工厂每次执行产生全新的插件实例。
func Builtins() map[string]plugin.Factory {
	return map[string]plugin.Factory{
		"checkpoint": func() []plugin.Plugin { return []plugin.Plugin{checkpoint.New()} },
		"lora":       func() []plugin.Plugin { return []plugin.Plugin{lora.New()} },
		"fullft":     func() []plugin.Plugin { return []plugin.Plugin{fullft.New()} },
		"tabular":    func() []plugin.Plugin { return []plugin.Plugin{tabular.New()} },
		"template":   func() []plugin.Plugin { return []plugin.Plugin{template.New()} },
		"sft":        func() []plugin.Plugin { return []plugin.Plugin{sft.New()} },
		"filelog":    func() []plugin.Plugin { return []plugin.Plugin{filelog.New()} },
		"tracker":    func() []plugin.Plugin { return []plugin.Plugin{tracker.New()} },
		"redstream":  func() []plugin.Plugin { return []plugin.Plugin{redstream.New()} },
		"eventbus":   func() []plugin.Plugin { return []plugin.Plugin{eventbus.New()} },
	}
}
