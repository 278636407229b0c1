package batch

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/classifier"
	"github.com/MeKo-Tech/leafcheck/internal/store"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatText = "text"
)

// Formats lists the supported output formats.
var Formats = []string{FormatJSON, FormatCSV, FormatText}

// Config holds all configuration for batch prediction.
type Config struct {
	// Model settings
	ModelsDir     string
	ModelPath     string
	LibraryPath   string
	LabelsPath    string
	AdvicePath    string
	Normalization string
	ChannelOrder  string
	Layout        string
	InputSize     int
	ResizeFilter  string
	ModelVersion  string
	Threads       int
	GPU           bool
	GPUDevice     int

	// Stub replaces the model; used by tests and --stub-model.
	Stub *classifier.StubInferer

	// Output settings
	Format     string
	OutputFile string
	TopK       int // predictions listed per image (0 = detailed default)

	// Parallel processing settings
	Workers int

	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Progress settings
	ShowProgress     bool
	Quiet            bool
	ShowStats        bool
	ProgressInterval time.Duration

	// History, when set, receives every successful prediction.
	History *store.Store
}

// DefaultConfig returns the settings used by `leafcheck batch` without flags.
func DefaultConfig() *Config {
	return &Config{
		Format:           FormatText,
		ShowProgress:     true,
		ShowStats:        true,
		ProgressInterval: 100 * time.Millisecond,
	}
}

// Validate checks output settings before any work starts.
func (c *Config) Validate() error {
	if !slices.Contains(Formats, c.Format) {
		return fmt.Errorf("unsupported output format %q (want one of %v)", c.Format, Formats)
	}
	if c.TopK < 0 {
		return errors.New("top-k must be >= 0")
	}
	if c.Workers < 0 {
		return errors.New("workers must be >= 0")
	}
	return nil
}
