package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultGPUConfig(t *testing.T) {
	config := DefaultGPUConfig()

	assert.False(t, config.UseGPU)
	assert.Equal(t, 0, config.DeviceID)
	assert.Equal(t, uint64(0), config.GPUMemLimit)
	assert.Equal(t, "kNextPowerOfTwo", config.ArenaExtendStrategy)
	assert.Equal(t, "DEFAULT", config.CUDNNConvAlgoSearch)
	assert.True(t, config.DoCopyInDefaultStream)
}

func TestValidateGPUConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  GPUConfig
		wantErr bool
	}{
		{name: "valid CPU config", config: DefaultGPUConfig()},
		{
			name: "valid GPU config",
			config: GPUConfig{
				UseGPU:              true,
				ArenaExtendStrategy: "kSameAsRequested",
				CUDNNConvAlgoSearch: "HEURISTIC",
			},
		},
		{name: "negative device ID", config: GPUConfig{UseGPU: true, DeviceID: -1}, wantErr: true},
		{name: "bad arena strategy", config: GPUConfig{UseGPU: true, ArenaExtendStrategy: "grow"}, wantErr: true},
		{name: "bad algo search", config: GPUConfig{UseGPU: true, CUDNNConvAlgoSearch: "FAST"}, wantErr: true},
		{name: "invalid values ignored on CPU", config: GPUConfig{DeviceID: -5, ArenaExtendStrategy: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGPUConfig(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCudaSettings(t *testing.T) {
	cfg := DefaultGPUConfig()
	cfg.UseGPU = true
	cfg.DeviceID = 2
	cfg.GPUMemLimit = 1 << 30

	settings := cudaSettings(cfg)
	assert.Equal(t, "2", settings["device_id"])
	assert.Equal(t, "1073741824", settings["gpu_mem_limit"])
	assert.Equal(t, "1", settings["do_copy_in_default_stream"])

	cfg.GPUMemLimit = 0
	cfg.DoCopyInDefaultStream = false
	settings = cudaSettings(cfg)
	assert.NotContains(t, settings, "gpu_mem_limit")
	assert.Equal(t, "0", settings["do_copy_in_default_stream"])
}
