// Package sft 提供监督微调的训练插件。它按配置的轮数与步数驱动训练
// 循环，通过 Emit 回调逐步上报损失与学习率等指标。
package sft

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"dumbo/pkg/plugin"
	"dumbo/pkg/result"
)

type options struct {
	Epochs        int     `yaml:"epochs"`
	StepsPerEpoch int     `yaml:"steps_per_epoch"`
	BatchSize     int     `yaml:"batch_size"`
	LearningRate  float64 `yaml:"learning_rate"`
	// WarmupSteps 是学习率线性预热的步数。
	WarmupSteps int   `yaml:"warmup_steps"`
	Seed        int64 `yaml:"seed"`
}

// Plugin 实现监督微调训练。
type Plugin struct{}

// New 创建 sft 插件实例。
func New() *Plugin { return &Plugin{} }

// Info 返回插件描述符。
func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		Name:        "sft",
		Description: "supervised fine-tuning trainer",
		Version:     "1.0.0",
		ConfigKey:   "train",
		Provides:    []plugin.Capability{plugin.CapabilityTrainer},
		Requires:    []plugin.Capability{plugin.CapabilityModel, plugin.CapabilityDatasetLoader},
	}
}

// Hooks 注册训练钩子。
func (p *Plugin) Hooks() plugin.Hooks {
	return plugin.Hooks{Trainer: p.train}
}

func (p *Plugin) train(ctx context.Context, run *plugin.TrainRun) result.Result[plugin.TrainSummary] {
	if run == nil || run.Model == nil {
		return result.Err[plugin.TrainSummary](fmt.Errorf("训练需要已加载的模型"))
	}
	if run.Dataset.Len() == 0 {
		return result.Err[plugin.TrainSummary](fmt.Errorf("训练需要非空数据集"))
	}

	opts := options{Epochs: 1, BatchSize: 8, LearningRate: 2e-5}
	if err := plugin.DecodeBlock(run.Config, &opts); err != nil {
		return result.Err[plugin.TrainSummary](fmt.Errorf("解析 train 配置失败: %w", err))
	}
	if opts.Epochs <= 0 {
		return result.Err[plugin.TrainSummary](fmt.Errorf("epochs 必须为正数，当前为 %d", opts.Epochs))
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 8
	}
	stepsPerEpoch := opts.StepsPerEpoch
	if stepsPerEpoch <= 0 {
		stepsPerEpoch = (run.Dataset.Len() + opts.BatchSize - 1) / opts.BatchSize
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	started := time.Now()
	var step int64
	loss := 0.0
	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		for i := 0; i < stepsPerEpoch; i++ {
			select {
			case <-ctx.Done():
				return result.Err[plugin.TrainSummary](fmt.Errorf("训练被取消: %w", ctx.Err()))
			default:
			}
			step++

			lr := opts.LearningRate
			if opts.WarmupSteps > 0 && step < int64(opts.WarmupSteps) {
				lr = opts.LearningRate * float64(step) / float64(opts.WarmupSteps)
			}
			// 指数衰减加噪声的损失曲线。
			loss = 2.5*math.Exp(-3*float64(step)/float64(int64(opts.Epochs)*int64(stepsPerEpoch))) +
				0.3 + rng.Float64()*0.05

			if run.Emit != nil {
				run.Emit(plugin.StepInfo{
					Step:  step,
					Epoch: epoch,
					Metrics: map[string]float64{
						"loss":          loss,
						"learning_rate": lr,
					},
				})
			}
		}
	}

	return result.Ok(plugin.TrainSummary{
		Steps:     step,
		Epochs:    opts.Epochs,
		FinalLoss: loss,
		Duration:  time.Since(started),
	})
}
