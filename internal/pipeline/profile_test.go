package pipeline

import (
	"testing"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/common"
	"github.com/stretchr/testify/assert"
)

func TestProfilerSnapshot(t *testing.T) {
	var p Profiler
	snap := p.Snapshot()
	assert.Equal(t, int64(0), snap["predictions"])
	assert.NotContains(t, snap, "inference_ms_avg")

	p.Record([]common.Lap{
		{Name: StageDecode, Duration: 2 * time.Millisecond},
		{Name: StagePreprocess, Duration: 4 * time.Millisecond},
		{Name: StageInference, Duration: 10 * time.Millisecond},
		{Name: StageRank, Duration: time.Millisecond},
		{Name: "ignored", Duration: time.Hour},
	})
	p.Record([]common.Lap{{Name: StageInference, Duration: 30 * time.Millisecond}})
	p.RecordFailure()

	snap = p.Snapshot()
	assert.Equal(t, int64(2), snap["predictions"])
	assert.Equal(t, int64(1), snap["failures"])
	assert.Equal(t, int64(40), snap["inference_ms_total"])
	assert.InDelta(t, 20.0, snap["inference_ms_avg"], 1e-9)
	assert.InDelta(t, 1.0, snap["decode_ms_avg"], 1e-9)
}
