// Package template 提供数据集格式化插件：用 text/template 将每一行渲染
// 成训练文本，写入目标字段。模板中的字段引用缺失时立即报错，避免静默
// 生成残缺样本。
package template

import (
	"context"
	"fmt"
	"strings"
	texttemplate "text/template"

	"dumbo/pkg/plugin"
	"dumbo/pkg/result"
)

type options struct {
	// Template 是渲染每行数据的模板内容。
	Template string `yaml:"template"`
	// TargetField 是渲染结果写入的字段名，默认 text。
	TargetField string `yaml:"target_field"`
	// KeepFields 为 true 时保留原始字段，否则只保留渲染结果。
	KeepFields bool `yaml:"keep_fields"`
}

// Plugin 实现模板格式化。
type Plugin struct{}

// New 创建 template 插件实例。
func New() *Plugin { return &Plugin{} }

// Info 返回插件描述符。
func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		Name:        "template",
		Description: "renders dataset rows into training text via text/template",
		Version:     "1.0.0",
		ConfigKey:   "template",
		Provides:    []plugin.Capability{plugin.CapabilityDatasetFormatter},
		Requires:    []plugin.Capability{plugin.CapabilityDatasetLoader},
	}
}

// Hooks 注册数据集格式化钩子。
func (p *Plugin) Hooks() plugin.Hooks {
	return plugin.Hooks{DatasetFormatter: p.format}
}

func (p *Plugin) format(_ context.Context, dataset *plugin.Dataset, cfg map[string]any) result.Result[*plugin.Dataset] {
	if dataset == nil {
		return result.Err[*plugin.Dataset](fmt.Errorf("template 格式化需要已加载的数据集"))
	}

	opts := options{TargetField: "text"}
	if err := plugin.DecodeBlock(cfg, &opts); err != nil {
		return result.Err[*plugin.Dataset](fmt.Errorf("解析 template 配置失败: %w", err))
	}
	if opts.TargetField == "" {
		opts.TargetField = "text"
	}
	return p.formatWith(dataset, opts)
}

func (p *Plugin) formatWith(dataset *plugin.Dataset, opts options) result.Result[*plugin.Dataset] {
	if opts.Template == "" {
		return result.Err[*plugin.Dataset](fmt.Errorf("template 配置缺少 template 字段"))
	}
	tmpl, err := texttemplate.New("row").Option("missingkey=error").Parse(opts.Template)
	if err != nil {
		return result.Err[*plugin.Dataset](fmt.Errorf("解析模板失败: %w", err))
	}

	out := &plugin.Dataset{Name: dataset.Name, Rows: make([]map[string]any, 0, len(dataset.Rows))}
	for idx, row := range dataset.Rows {
		var sb strings.Builder
		if err := tmpl.Execute(&sb, row); err != nil {
			return result.Err[*plugin.Dataset](fmt.Errorf("渲染第 %d 行失败: %w", idx, err))
		}
		var rendered map[string]any
		if opts.KeepFields {
			rendered = make(map[string]any, len(row)+1)
			for k, v := range row {
				rendered[k] = v
			}
		} else {
			rendered = make(map[string]any, 1)
		}
		rendered[opts.TargetField] = sb.String()
		out.Rows = append(out.Rows, rendered)
	}
	return result.Ok(out)
}
