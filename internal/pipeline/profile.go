package pipeline

import (
	"sync/atomic"

	"github.com/MeKo-Tech/leafcheck/internal/common"
)

// Stage names used for timer laps and profiling.
const (
	StageDecode     = "decode"
	StagePreprocess = "preprocess"
	StageInference  = "inference"
	StageRank       = "rank"
)

// Profiler aggregates per-stage timings across predictions.
type Profiler struct {
	DecodeTimeNs     atomic.Int64
	PreprocessTimeNs atomic.Int64
	InferenceTimeNs  atomic.Int64
	RankTimeNs       atomic.Int64
	Predictions      atomic.Int64
	Failures         atomic.Int64
}

// Record adds the laps of one successful prediction.
func (p *Profiler) Record(laps []common.Lap) {
	for _, l := range laps {
		switch l.Name {
		case StageDecode:
			p.DecodeTimeNs.Add(int64(l.Duration))
		case StagePreprocess:
			p.PreprocessTimeNs.Add(int64(l.Duration))
		case StageInference:
			p.InferenceTimeNs.Add(int64(l.Duration))
		case StageRank:
			p.RankTimeNs.Add(int64(l.Duration))
		}
	}
	p.Predictions.Add(1)
}

// RecordFailure counts a prediction that did not produce a result.
func (p *Profiler) RecordFailure() { p.Failures.Add(1) }

// Snapshot returns cumulative metrics in milliseconds for readability.
func (p *Profiler) Snapshot() map[string]any {
	n := p.Predictions.Load()
	stages := map[string]int64{
		StageDecode:     p.DecodeTimeNs.Load(),
		StagePreprocess: p.PreprocessTimeNs.Load(),
		StageInference:  p.InferenceTimeNs.Load(),
		StageRank:       p.RankTimeNs.Load(),
	}
	out := map[string]any{
		"predictions": n,
		"failures":    p.Failures.Load(),
	}
	for name, ns := range stages {
		out[name+"_ms_total"] = ns / 1_000_000
		if n > 0 {
			out[name+"_ms_avg"] = float64(ns) / 1_000_000.0 / float64(n)
		}
	}
	return out
}
