// Package metrics aggregates the metric values observed during a run into
// counters and histograms for the end-of-run summary. Deliberately
// hand-rolled: the summary is written once per run, not scraped.
package metrics

import (
	"math"
	"sort"
	"sync"
)

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
	min     float64
	max     float64
	last    float64
}

// Aggregator 按指标名累积观测值。
type Aggregator struct {
	mu     sync.Mutex
	series map[string]*histogram
}

// Summary 是单个指标的聚合结果。
type Summary struct {
	Name  string  `json:"name"`
	Count uint64  `json:"count"`
	Sum   float64 `json:"sum"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Last  float64 `json:"last"`
}

// NewAggregator 创建空的聚合器。
func NewAggregator() *Aggregator {
	return &Aggregator{series: make(map[string]*histogram)}
}

// Observe 记录一次指标观测。
func (a *Aggregator) Observe(name string, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	hist := a.series[name]
	if hist == nil {
		hist = newHistogram()
		a.series[name] = hist
	}
	hist.observe(value)
}

// Snapshot 返回按名称排序的聚合结果。
func (a *Aggregator) Snapshot() []Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Summary, 0, len(a.series))
	for name, hist := range a.series {
		summary := Summary{
			Name:  name,
			Count: hist.count,
			Sum:   hist.sum,
			Min:   hist.min,
			Max:   hist.max,
			Last:  hist.last,
		}
		if hist.count > 0 {
			summary.Mean = hist.sum / float64(hist.count)
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func newHistogram() *histogram {
	buckets := []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
		min:     math.Inf(1),
		max:     math.Inf(-1),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	h.last = value
	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}
