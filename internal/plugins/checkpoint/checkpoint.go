// Package checkpoint 提供内置的模型与分词器加载插件。
// 它从 model 配置块描述的清单文件（或内联字段）构建模型工件。
package checkpoint

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"dumbo/pkg/plugin"
	"dumbo/pkg/result"
)

// options 是 model 配置块中本插件关心的字段。
type options struct {
	Name         string         `yaml:"name"`
	Path         string         `yaml:"path"`
	Architecture string         `yaml:"architecture"`
	Parameters   int64          `yaml:"parameters"`
	VocabSize    int            `yaml:"vocab_size"`
	Metadata     map[string]any `yaml:"metadata"`
}

// manifest 是清单文件的结构，字段可覆盖内联配置。
type manifest struct {
	Name         string         `yaml:"name"`
	Architecture string         `yaml:"architecture"`
	Parameters   int64          `yaml:"parameters"`
	VocabSize    int            `yaml:"vocab_size"`
	Tokenizer    string         `yaml:"tokenizer"`
	Metadata     map[string]any `yaml:"metadata"`
}

// Plugin 实现 checkpoint 加载。
type Plugin struct {
	loaded manifest
}

// New 创建 checkpoint 插件实例。
func New() *Plugin { return &Plugin{} }

// Info 返回插件描述符。
func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		Name:        "checkpoint",
		Description: "loads the model and tokenizer from a checkpoint manifest",
		Version:     "1.0.0",
		ConfigKey:   "model",
		Provides:    []plugin.Capability{plugin.CapabilityModel, plugin.CapabilityTokenizer},
	}
}

// Hooks 注册模型与分词器加载钩子。
func (p *Plugin) Hooks() plugin.Hooks {
	return plugin.Hooks{
		ModelLoader:     p.loadModel,
		TokenizerLoader: p.loadTokenizer,
	}
}

func (p *Plugin) loadModel(_ context.Context, cfg map[string]any) result.Result[*plugin.Model] {
	var opts options
	if err := plugin.DecodeBlock(cfg, &opts); err != nil {
		return result.Err[*plugin.Model](fmt.Errorf("解析 model 配置失败: %w", err))
	}

	m := manifest{
		Name:         opts.Name,
		Architecture: opts.Architecture,
		Parameters:   opts.Parameters,
		VocabSize:    opts.VocabSize,
		Metadata:     opts.Metadata,
	}
	if opts.Path != "" {
		loaded, err := readManifest(opts.Path)
		if err != nil {
			return result.Err[*plugin.Model](err)
		}
		m = merge(m, loaded)
	}
	if m.Name == "" {
		return result.Err[*plugin.Model](fmt.Errorf("model 配置缺少 name 字段"))
	}
	p.loaded = m

	return result.Ok(&plugin.Model{
		Name:         m.Name,
		Architecture: m.Architecture,
		Parameters:   m.Parameters,
		Trainable:    m.Parameters,
		Metadata:     m.Metadata,
	})
}

func (p *Plugin) loadTokenizer(_ context.Context, _ map[string]any, model *plugin.Model) result.Result[*plugin.Tokenizer] {
	name := p.loaded.Tokenizer
	if name == "" && model != nil {
		name = model.Name
	}
	if name == "" {
		return result.Err[*plugin.Tokenizer](fmt.Errorf("无法确定分词器名称，model 阶段尚未执行"))
	}
	return result.Ok(&plugin.Tokenizer{
		Name:      name,
		VocabSize: p.loaded.VocabSize,
	})
}

func readManifest(path string) (manifest, error) {
	var m manifest
	content, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("读取模型清单失败: %w", err)
	}
	if err := yaml.Unmarshal(content, &m); err != nil {
		return m, fmt.Errorf("解析模型清单失败: %w", err)
	}
	return m, nil
}

// merge 用清单内容覆盖内联配置中的零值字段。
func merge(base, over manifest) manifest {
	if over.Name != "" {
		base.Name = over.Name
	}
	if over.Architecture != "" {
		base.Architecture = over.Architecture
	}
	if over.Parameters != 0 {
		base.Parameters = over.Parameters
	}
	if over.VocabSize != 0 {
		base.VocabSize = over.VocabSize
	}
	if over.Tokenizer != "" {
		base.Tokenizer = over.Tokenizer
	}
	if len(over.Metadata) > 0 {
		if base.Metadata == nil {
			base.Metadata = make(map[string]any, len(over.Metadata))
		}
		for k, v := range over.Metadata {
			base.Metadata[k] = v
		}
	}
	return base
}
