package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
plugins:
  - checkpoint
  - lora
  - sft

plugin_dir: plugins

model:
  name: qwen2-0.5b
  parameters: 494000000

datasets:
  - name: alpaca
    path: data/alpaca.jsonl
    format: jsonl

lora:
  rank: 16

train:
  epochs: 3

logging:
  level: debug
  format: json
`

func TestParseSplitsReservedAndPluginBlocks(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(cfg.Plugins) != 3 || cfg.Plugins[0] != "checkpoint" {
		t.Fatalf("unexpected plugin list: %v", cfg.Plugins)
	}
	if cfg.Model["name"] != "qwen2-0.5b" {
		t.Fatalf("model block not parsed: %v", cfg.Model)
	}
	if len(cfg.Datasets) != 1 || cfg.Datasets[0]["format"] != "jsonl" {
		t.Fatalf("datasets block not parsed: %v", cfg.Datasets)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging block not decoded: %+v", cfg.Logging)
	}

	if _, reserved := cfg.Blocks["model"]; reserved {
		t.Fatalf("reserved keys must not land in Blocks")
	}
	if cfg.Blocks["lora"]["rank"] != 16 {
		t.Fatalf("lora block missing: %v", cfg.Blocks)
	}
	if cfg.Blocks["train"]["epochs"] != 3 {
		t.Fatalf("train block missing: %v", cfg.Blocks)
	}
}

func TestParseRejectsEmptyPluginList(t *testing.T) {
	if _, err := Parse([]byte("model:\n  name: x\n")); err == nil {
		t.Fatalf("config without plugins must be rejected")
	}
}

func TestParseRejectsMalformedSections(t *testing.T) {
	cases := map[string]string{
		"datasets not a list": "plugins: [a]\ndatasets: 5\n",
		"plugins not strings": "plugins: [1, 2]\n",
		"block not a mapping": "plugins: [a]\nlora: 3\n",
	}
	for name, content := range cases {
		if _, err := Parse([]byte(content)); err == nil {
			t.Fatalf("%s: expected parse error", name)
		}
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	content := "plugins:\n  - sft\nplugin_dir: mods\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BaseDir != dir {
		t.Fatalf("expected base dir %s, got %s", dir, cfg.BaseDir)
	}
	if cfg.PluginDir != filepath.Join(dir, "mods") {
		t.Fatalf("relative plugin_dir must resolve against the config dir, got %s", cfg.PluginDir)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default log level info, got %s", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
