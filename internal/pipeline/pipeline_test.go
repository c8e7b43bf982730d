package pipeline

import (
	"context"
	"errors"
	"testing"

	"dumbo/internal/config"
	"dumbo/pkg/plugin"
	"dumbo/pkg/result"
)

type scriptedPlugin struct {
	info  plugin.Info
	hooks plugin.Hooks
}

func (p *scriptedPlugin) Info() plugin.Info   { return p.info }
func (p *scriptedPlugin) Hooks() plugin.Hooks { return p.hooks }

// happyPathBuiltins wires one plugin per critical phase and records the
// phase order into trace.
func happyPathBuiltins(trace *[]string) map[string]plugin.Factory {
	record := func(phase string) { *trace = append(*trace, phase) }
	return map[string]plugin.Factory{
		"model": func() []plugin.Plugin {
			return []plugin.Plugin{&scriptedPlugin{
				info: plugin.Info{Name: "model", Provides: []plugin.Capability{plugin.CapabilityModel}},
				hooks: plugin.Hooks{
					ModelLoader: func(context.Context, map[string]any) result.Result[*plugin.Model] {
						record("model_loader")
						return result.Ok(&plugin.Model{Name: "m", Parameters: 100})
					},
					TokenizerLoader: func(context.Context, map[string]any, *plugin.Model) result.Result[*plugin.Tokenizer] {
						record("tokenizer_loader")
						return result.Ok(&plugin.Tokenizer{Name: "tok"})
					},
				},
			}}
		},
		"patch": func() []plugin.Plugin {
			return []plugin.Plugin{&scriptedPlugin{
				info: plugin.Info{
					Name:     "patch",
					Provides: []plugin.Capability{plugin.CapabilityAdapter},
					Requires: []plugin.Capability{plugin.CapabilityModel},
				},
				hooks: plugin.Hooks{
					ModelPatcher: func(_ context.Context, model *plugin.Model, _ map[string]any) result.Result[*plugin.Model] {
						record("model_patcher")
						return result.Ok(model)
					},
				},
			}}
		},
		"data": func() []plugin.Plugin {
			return []plugin.Plugin{&scriptedPlugin{
				info: plugin.Info{Name: "data", Provides: []plugin.Capability{plugin.CapabilityDatasetLoader}},
				hooks: plugin.Hooks{
					DatasetLoader: func(context.Context, []map[string]any) result.Result[*plugin.Dataset] {
						record("dataset_loader")
						return result.Ok(&plugin.Dataset{Name: "ds", Rows: []map[string]any{{"text": "x"}}})
					},
					DatasetFormatter: func(_ context.Context, dataset *plugin.Dataset, _ map[string]any) result.Result[*plugin.Dataset] {
						record("dataset_formatter")
						return result.Ok(dataset)
					},
				},
			}}
		},
		"trainer": func() []plugin.Plugin {
			return []plugin.Plugin{&scriptedPlugin{
				info: plugin.Info{
					Name:     "trainer",
					Provides: []plugin.Capability{plugin.CapabilityTrainer},
					Requires: []plugin.Capability{plugin.CapabilityModel, plugin.CapabilityDatasetLoader},
				},
				hooks: plugin.Hooks{
					Trainer: func(_ context.Context, run *plugin.TrainRun) result.Result[plugin.TrainSummary] {
						record("trainer")
						if run.Emit != nil {
							run.Emit(plugin.StepInfo{Step: 1, Epoch: 1, Metrics: map[string]float64{"loss": 1.0}})
						}
						return result.Ok(plugin.TrainSummary{Steps: 1, Epochs: 1, FinalLoss: 1.0})
					},
					Finish: func() result.Result[result.Unit] {
						record("finish")
						return result.Done()
					},
				},
			}}
		},
	}
}

func testConfig(pluginIDs ...string) *config.Config {
	return &config.Config{
		Plugins: pluginIDs,
		Model:   map[string]any{"name": "m"},
		Blocks:  map[string]map[string]any{},
	}
}

func TestRunExecutesPhasesInOrder(t *testing.T) {
	var trace []string
	runner := NewRunner(
		testConfig("trainer", "patch", "data", "model"),
		WithBuiltins(happyPathBuiltins(&trace)),
	)

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Summary.Steps != 1 {
		t.Fatalf("unexpected summary: %+v", report.Summary)
	}
	if report.RunID == "" {
		t.Fatalf("run must be assigned an identifier")
	}

	want := []string{"model_loader", "tokenizer_loader", "model_patcher", "dataset_loader", "dataset_formatter", "trainer", "finish"}
	if len(trace) != len(want) {
		t.Fatalf("expected phases %v, got %v", want, trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("phase %d: expected %s, got %s (trace %v)", i, want[i], trace[i], trace)
		}
	}

	if len(report.Metrics) == 0 || report.Metrics[0].Name != "loss" {
		t.Fatalf("expected aggregated loss metric, got %+v", report.Metrics)
	}
}

func TestRunAbortsOnCriticalFailureButStillFinishes(t *testing.T) {
	var finished bool
	var trainerRan bool
	builtins := map[string]plugin.Factory{
		"broken-model": func() []plugin.Plugin {
			return []plugin.Plugin{&scriptedPlugin{
				info: plugin.Info{Name: "broken-model", Provides: []plugin.Capability{plugin.CapabilityModel}},
				hooks: plugin.Hooks{
					ModelLoader: func(context.Context, map[string]any) result.Result[*plugin.Model] {
						return result.Err[*plugin.Model](errors.New("checkpoint corrupt"))
					},
					Finish: func() result.Result[result.Unit] {
						finished = true
						return result.Done()
					},
				},
			}}
		},
		"trainer": func() []plugin.Plugin {
			return []plugin.Plugin{&scriptedPlugin{
				info: plugin.Info{Name: "trainer", Provides: []plugin.Capability{plugin.CapabilityTrainer}},
				hooks: plugin.Hooks{
					Trainer: func(context.Context, *plugin.TrainRun) result.Result[plugin.TrainSummary] {
						trainerRan = true
						return result.Ok(plugin.TrainSummary{})
					},
				},
			}}
		},
	}

	runner := NewRunner(testConfig("broken-model", "trainer"), WithBuiltins(builtins))
	_, err := runner.Run(context.Background())
	if err == nil {
		t.Fatalf("critical model failure must abort the run")
	}
	if trainerRan {
		t.Fatalf("phases after a critical failure must not run")
	}
	if !finished {
		t.Fatalf("finish must run on the abort path")
	}
}

func TestRunLoggingFailureIsNonFatal(t *testing.T) {
	builtins := happyPathBuiltins(&[]string{})
	builtins["badlog"] = func() []plugin.Plugin {
		return []plugin.Plugin{&scriptedPlugin{
			info: plugin.Info{Name: "badlog", Provides: []plugin.Capability{plugin.CapabilityLogging}},
			hooks: plugin.Hooks{
				LogModel: func(map[string]any) result.Result[result.Unit] {
					return result.Err[result.Unit](errors.New("dashboard down"))
				},
			},
		}}
	}

	runner := NewRunner(
		testConfig("model", "data", "trainer", "badlog"),
		WithBuiltins(builtins),
	)
	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("logging failure must not abort the run: %v", err)
	}

	found := false
	for _, w := range report.Warnings {
		if w.Plugin == "badlog" && w.Hook == "log_model" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a warning for the failing logger, got %+v", report.Warnings)
	}
}

func TestRunFailsWithoutTrainer(t *testing.T) {
	var trace []string
	builtins := happyPathBuiltins(&trace)
	runner := NewRunner(testConfig("model", "data"), WithBuiltins(builtins))
	if _, err := runner.Run(context.Background()); err == nil {
		t.Fatalf("run without a trainer must fail")
	}
}

func TestRunRejectsConflictingPlugins(t *testing.T) {
	builtins := map[string]plugin.Factory{
		"lora-like": func() []plugin.Plugin {
			return []plugin.Plugin{&scriptedPlugin{
				info: plugin.Info{
					Name:      "lora-like",
					Provides:  []plugin.Capability{plugin.CapabilityAdapter},
					Conflicts: []plugin.Capability{plugin.CapabilityFullFinetune},
				},
			}}
		},
		"full-like": func() []plugin.Plugin {
			return []plugin.Plugin{&scriptedPlugin{
				info: plugin.Info{Name: "full-like", Provides: []plugin.Capability{plugin.CapabilityFullFinetune}},
			}}
		},
	}

	runner := NewRunner(testConfig("lora-like", "full-like"), WithBuiltins(builtins))
	if _, err := runner.Run(context.Background()); err == nil {
		t.Fatalf("conflicting capability sets must abort before any hook runs")
	}
}

func TestRunUnknownPluginIdentifier(t *testing.T) {
	runner := NewRunner(testConfig("nonexistent"), WithBuiltins(map[string]plugin.Factory{}))
	if _, err := runner.Run(context.Background()); err == nil {
		t.Fatalf("unknown identifier must abort the run")
	}
}
