package mempool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeClass(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{0, 1024},
		{1, 1024},
		{1024, 1024},
		{1025, 2048},
		{224 * 224 * 3, 150528},
		{150529, 151552},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sizeClass(tt.n), "n=%d", tt.n)
	}
}

func TestGetFloat32_Length(t *testing.T) {
	buf := GetFloat32(224 * 224 * 3)
	assert.Len(t, buf, 224*224*3)
	assert.GreaterOrEqual(t, cap(buf), 224*224*3)
	PutFloat32(buf)
}

func TestPutFloat32_NilAndOddCapacity(t *testing.T) {
	assert.NotPanics(t, func() { PutFloat32(nil) })
	assert.NotPanics(t, func() { PutFloat32(make([]float32, 10, 1500)) })
}

func TestPoolReuse(t *testing.T) {
	buf := GetFloat32(4096)
	buf[0] = 42
	PutFloat32(buf)

	again := GetFloat32(4096)
	assert.Len(t, again, 4096)
	PutFloat32(again)
}

func TestConcurrentAccess(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				buf := GetFloat32(n)
				for k := range buf {
					buf[k] = float32(k)
				}
				PutFloat32(buf)
			}
		}(1000 + i*700)
	}
	wg.Wait()
}

func BenchmarkGetFloat32_Tensor(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetFloat32(224 * 224 * 3)
		PutFloat32(buf)
	}
}
