// Package fullft 提供全参微调补丁插件：解冻全部基座参数。
// 与低秩适配插件互斥，两者同时声明会在解析阶段报错。
package fullft

import (
	"context"
	"fmt"

	"dumbo/pkg/plugin"
	"dumbo/pkg/result"
)

// Plugin 实现全参微调补丁。
type Plugin struct{}

// New 创建 fullft 插件实例。
func New() *Plugin { return &Plugin{} }

// Info 返回插件描述符。
func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		Name:        "fullft",
		Description: "unfreezes every base parameter for full fine-tuning",
		Version:     "1.0.0",
		Provides:    []plugin.Capability{plugin.CapabilityFullFinetune},
		Requires:    []plugin.Capability{plugin.CapabilityModel},
		Conflicts:   []plugin.Capability{plugin.CapabilityAdapter},
	}
}

// Hooks 注册模型补丁钩子。
func (p *Plugin) Hooks() plugin.Hooks {
	return plugin.Hooks{ModelPatcher: p.patch}
}

func (p *Plugin) patch(_ context.Context, model *plugin.Model, _ map[string]any) result.Result[*plugin.Model] {
	if model == nil {
		return result.Err[*plugin.Model](fmt.Errorf("全参微调需要已加载的模型"))
	}
	patched := *model
	patched.Trainable = model.Parameters
	return result.Ok(&patched)
}
