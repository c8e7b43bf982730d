// Package tabular 提供内置的数据集加载插件，支持 CSV、JSON 数组与
// JSON 行三种本地文件格式。多个数据集配置块会被拼接为一个数据集。
package tabular

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dumbo/pkg/plugin"
	"dumbo/pkg/result"
)

type source struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
	// Limit 限制读取的最大行数，0 表示不限制。
	Limit int `yaml:"limit"`
}

// Plugin 实现表格数据集加载。
type Plugin struct{}

// New 创建 tabular 插件实例。
func New() *Plugin { return &Plugin{} }

// Info 返回插件描述符。
func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		Name:        "tabular",
		Description: "loads CSV, JSON and JSONL dataset files",
		Version:     "1.0.0",
		ConfigKey:   "datasets",
		Provides:    []plugin.Capability{plugin.CapabilityDatasetLoader},
	}
}

// Hooks 注册数据集加载钩子。
func (p *Plugin) Hooks() plugin.Hooks {
	return plugin.Hooks{DatasetLoader: p.load}
}

func (p *Plugin) load(_ context.Context, cfgs []map[string]any) result.Result[*plugin.Dataset] {
	if len(cfgs) == 0 {
		return result.Err[*plugin.Dataset](fmt.Errorf("datasets 配置为空"))
	}

	dataset := &plugin.Dataset{}
	var names []string
	for idx, cfg := range cfgs {
		var src source
		if err := plugin.DecodeBlock(cfg, &src); err != nil {
			return result.Err[*plugin.Dataset](fmt.Errorf("解析 datasets[%d] 配置失败: %w", idx, err))
		}
		if src.Path == "" {
			return result.Err[*plugin.Dataset](fmt.Errorf("datasets[%d] 缺少 path 字段", idx))
		}
		rows, err := readSource(src)
		if err != nil {
			return result.Err[*plugin.Dataset](err)
		}
		dataset.Rows = append(dataset.Rows, rows...)
		if src.Name != "" {
			names = append(names, src.Name)
		} else {
			names = append(names, strings.TrimSuffix(filepath.Base(src.Path), filepath.Ext(src.Path)))
		}
	}
	dataset.Name = strings.Join(names, "+")
	return result.Ok(dataset)
}

func readSource(src source) ([]map[string]any, error) {
	file, err := os.Open(src.Path)
	if err != nil {
		return nil, fmt.Errorf("打开数据集文件失败: %w", err)
	}
	defer file.Close()

	format := src.Format
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(src.Path)), ".")
	}

	switch format {
	case "csv":
		return readCSV(file, src.Limit)
	case "json":
		return readJSON(file, src.Limit)
	case "jsonl", "ndjson":
		return readJSONL(file, src.Limit)
	default:
		return nil, fmt.Errorf("不支持的数据集格式: %s", format)
	}
}

func readCSV(r io.Reader, limit int) ([]map[string]any, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("读取 CSV 表头失败: %w", err)
	}

	var rows []map[string]any
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("读取 CSV 记录失败: %w", err)
		}
		row := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			}
		}
		rows = append(rows, row)
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

func readJSON(r io.Reader, limit int) ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("解析 JSON 数据集失败: %w", err)
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func readJSONL(r io.Reader, limit int) ([]map[string]any, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var rows []map[string]any
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal([]byte(text), &row); err != nil {
			return nil, fmt.Errorf("解析 JSONL 第 %d 行失败: %w", line, err)
		}
		rows = append(rows, row)
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取 JSONL 数据集失败: %w", err)
	}
	return rows, nil
}
