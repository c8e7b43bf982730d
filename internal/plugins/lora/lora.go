// Package lora 提供低秩适配补丁插件：冻结基座参数，只保留按秩估算的
// 少量可训练参数。与全参微调插件互斥。
package lora

import (
	"context"
	"fmt"

	"dumbo/pkg/plugin"
	"dumbo/pkg/result"
)

type options struct {
	Rank    int     `yaml:"rank"`
	Alpha   float64 `yaml:"alpha"`
	Dropout float64 `yaml:"dropout"`
	// TrainableRatio 是可训练参数占总参数的比例估计，按秩给出默认值。
	TrainableRatio float64 `yaml:"trainable_ratio"`
}

// Plugin 实现 lora 模型补丁。
type Plugin struct{}

// New 创建 lora 插件实例。
func New() *Plugin { return &Plugin{} }

// Info 返回插件描述符。
func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		Name:        "lora",
		Description: "applies a low-rank adapter patch to the loaded model",
		Version:     "1.0.0",
		ConfigKey:   "lora",
		Provides:    []plugin.Capability{plugin.CapabilityAdapter},
		Requires:    []plugin.Capability{plugin.CapabilityModel},
		Conflicts:   []plugin.Capability{plugin.CapabilityFullFinetune},
	}
}

// Hooks 注册模型补丁钩子。
func (p *Plugin) Hooks() plugin.Hooks {
	return plugin.Hooks{ModelPatcher: p.patch}
}

func (p *Plugin) patch(_ context.Context, model *plugin.Model, cfg map[string]any) result.Result[*plugin.Model] {
	if model == nil {
		return result.Err[*plugin.Model](fmt.Errorf("lora 补丁需要已加载的模型"))
	}

	opts := options{Rank: 8, Alpha: 16}
	if err := plugin.DecodeBlock(cfg, &opts); err != nil {
		return result.Err[*plugin.Model](fmt.Errorf("解析 lora 配置失败: %w", err))
	}
	if opts.Rank <= 0 {
		return result.Err[*plugin.Model](fmt.Errorf("lora rank 必须为正数，当前为 %d", opts.Rank))
	}

	ratio := opts.TrainableRatio
	if ratio <= 0 || ratio >= 1 {
		// 粗略估计：每增加一档秩，可训练比例增加千分之一。
		ratio = float64(opts.Rank) / 8 * 0.001
		if ratio > 0.05 {
			ratio = 0.05
		}
	}

	patched := *model
	patched.Trainable = int64(float64(model.Parameters) * ratio)
	patched.Adapters = append(append([]string(nil), model.Adapters...), fmt.Sprintf("lora(r=%d)", opts.Rank))
	if patched.Metadata == nil {
		patched.Metadata = make(map[string]any)
	}
	patched.Metadata["lora.rank"] = opts.Rank
	patched.Metadata["lora.alpha"] = opts.Alpha
	if opts.Dropout > 0 {
		patched.Metadata["lora.dropout"] = opts.Dropout
	}
	return result.Ok(&patched)
}
