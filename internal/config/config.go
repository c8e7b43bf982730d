package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"dumbo/pkg/logger"
)

// Config 描述一次训练运行所需的全部配置。
// 顶层的 model、datasets、plugins 为固定键，其余顶层键按插件的
// config_key 原样保留在 Blocks 中，交由对应插件自行解码。
type Config struct {
	// Model 是模型与分词器加载插件共享的配置块。
	Model map[string]any
	// Datasets 是数据集配置块列表。
	Datasets []map[string]any
	// Plugins 是按声明顺序排列的插件标识符列表。
	Plugins []string
	// PluginDir 是外部插件共享对象所在目录。
	PluginDir string
	// Logging 控制进程日志输出。
	Logging logger.Config
	// Blocks 保存各插件 config_key 对应的原始配置块。
	Blocks map[string]map[string]any
	// BaseDir 是配置文件所在目录，用于解析相对路径。
	BaseDir string
}

// 固定含义的顶层键，不会进入 Blocks。
var reservedKeys = map[string]struct{}{
	"model":      {},
	"datasets":   {},
	"plugins":    {},
	"plugin_dir": {},
	"logging":    {},
}

// Load 解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))
	return cfg, nil
}

// Parse 从 YAML 内容构建配置。
func Parse(content []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg := &Config{Blocks: make(map[string]map[string]any)}

	if section, ok := raw["model"]; ok {
		block, err := asBlock("model", section)
		if err != nil {
			return nil, err
		}
		cfg.Model = block
	}

	if section, ok := raw["datasets"]; ok {
		list, ok := section.([]any)
		if !ok {
			return nil, errors.New("datasets 必须是配置块列表")
		}
		for idx, item := range list {
			block, err := asBlock(fmt.Sprintf("datasets[%d]", idx), item)
			if err != nil {
				return nil, err
			}
			cfg.Datasets = append(cfg.Datasets, block)
		}
	}

	if section, ok := raw["plugins"]; ok {
		list, ok := section.([]any)
		if !ok {
			return nil, errors.New("plugins 必须是标识符列表")
		}
		for _, item := range list {
			id, ok := item.(string)
			if !ok || id == "" {
				return nil, fmt.Errorf("非法的插件标识符: %v", item)
			}
			cfg.Plugins = append(cfg.Plugins, id)
		}
	}

	if section, ok := raw["plugin_dir"]; ok {
		dir, ok := section.(string)
		if !ok {
			return nil, errors.New("plugin_dir 必须是字符串")
		}
		cfg.PluginDir = dir
	}

	if section, ok := raw["logging"]; ok {
		block, err := asBlock("logging", section)
		if err != nil {
			return nil, err
		}
		if err := decodeSection(block, &cfg.Logging); err != nil {
			return nil, fmt.Errorf("解析 logging 配置失败: %w", err)
		}
	}

	for key, section := range raw {
		if _, reserved := reservedKeys[key]; reserved {
			continue
		}
		block, err := asBlock(key, section)
		if err != nil {
			return nil, err
		}
		cfg.Blocks[key] = block
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置的基本一致性。
func (c *Config) Validate() error {
	if len(c.Plugins) == 0 {
		return errors.New("plugins 列表不能为空")
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	c.BaseDir = baseDir
	if c.PluginDir != "" && !filepath.IsAbs(c.PluginDir) {
		c.PluginDir = filepath.Join(baseDir, c.PluginDir)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func asBlock(name string, section any) (map[string]any, error) {
	if section == nil {
		return map[string]any{}, nil
	}
	block, ok := section.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("配置块 %s 必须是键值映射", name)
	}
	return block, nil
}

// decodeSection 通过 YAML 往返把通用映射解码为带标签的结构体。
func decodeSection(block map[string]any, out any) error {
	raw, err := yaml.Marshal(block)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, out)
}
