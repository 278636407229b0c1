package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer(t *testing.T) {
	timer := NewNamedTimer("predict")
	assert.Equal(t, "predict", timer.Name())

	time.Sleep(5 * time.Millisecond)
	timer.Lap("decode")
	time.Sleep(5 * time.Millisecond)
	timer.Lap("infer")

	duration := timer.Stop()
	assert.GreaterOrEqual(t, duration, 10*time.Millisecond)
	assert.Equal(t, duration, timer.Duration())

	laps := timer.Laps()
	require.Len(t, laps, 2)
	assert.Equal(t, "decode", laps[0].Name)
	assert.Equal(t, "infer", laps[1].Name)
	assert.GreaterOrEqual(t, laps[1].Duration, 5*time.Millisecond)

	str := timer.String()
	assert.Contains(t, str, "predict")
	assert.Contains(t, str, "decode=")
}

func TestTimerLogAttrs(t *testing.T) {
	timer := NewTimer()
	timer.Lap("decode")
	timer.Stop()

	attrs := timer.LogAttrs()
	assert.Equal(t, "decode_ms", attrs[0])
	assert.Len(t, attrs, 3)
}
