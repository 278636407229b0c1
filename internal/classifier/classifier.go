// Package classifier wraps the plant-disease model behind a load lifecycle.
// Requests check the lifecycle state instead of a nullable model reference.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MeKo-Tech/leafcheck/internal/catalog"
	"github.com/MeKo-Tech/leafcheck/internal/mempool"
	"github.com/MeKo-Tech/leafcheck/internal/onnx"
	"github.com/MeKo-Tech/leafcheck/internal/preprocess"
)

var (
	// ErrModelNotReady is returned while the model is loading or after a failed load.
	ErrModelNotReady = errors.New("model not ready")
	// ErrClassCountMismatch means the model output width disagrees with the catalog.
	ErrClassCountMismatch = errors.New("model output does not match class catalog")
)

// MismatchError reports the expected and actual number of classes.
type MismatchError struct {
	Want int // catalog size
	Got  int // model output width
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("model produces %d scores but catalog has %d classes", e.Got, e.Want)
}

func (e *MismatchError) Unwrap() error { return ErrClassCountMismatch }

// State is the model lifecycle.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Inferer runs the model on one input tensor and returns one probability per class.
type Inferer interface {
	Infer(ctx context.Context, t *onnx.Tensor) ([]float32, error)
	// Classes is the output width declared by the model, or 0 when it is dynamic.
	Classes() int
	Close() error
}

// Loader opens the model. It is called at most once per Classifier.
type Loader func(ctx context.Context) (Inferer, error)

// Classifier owns the model and guards access by lifecycle state.
type Classifier struct {
	catalog *catalog.Catalog
	input   preprocess.Config
	load    Loader

	state   atomic.Int32
	once    sync.Once
	mu      sync.RWMutex
	model   Inferer
	loadErr error
}

// New creates an uninitialized classifier. input describes the tensor the
// model expects and is used for warmup.
func New(cat *catalog.Catalog, input preprocess.Config, load Loader) *Classifier {
	return &Classifier{catalog: cat, input: input, load: load}
}

// NewWithInferer returns a classifier that is already Ready with m, after
// checking m's declared output width against cat.
func NewWithInferer(cat *catalog.Catalog, input preprocess.Config, m Inferer) (*Classifier, error) {
	c := New(cat, input, func(context.Context) (Inferer, error) { return m, nil })
	if err := c.Load(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// Catalog returns the class catalog the classifier validates against.
func (c *Classifier) Catalog() *catalog.Catalog { return c.catalog }

// InputConfig returns the preprocessing contract of the loaded model.
func (c *Classifier) InputConfig() preprocess.Config { return c.input }

// State returns the current lifecycle state.
func (c *Classifier) State() State { return State(c.state.Load()) }

// Ready reports whether requests can be served.
func (c *Classifier) Ready() bool { return c.State() == StateReady }

// LoadError returns the error of a failed load, or nil.
func (c *Classifier) LoadError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadErr
}

// Load opens the model once. Concurrent and repeated calls return the
// outcome of the first load.
func (c *Classifier) Load(ctx context.Context) error {
	c.once.Do(func() {
		c.state.Store(int32(StateLoading))
		slog.Info("Loading model", "classes", c.catalog.Len(), "normalization", c.input.Normalization,
			"channel_order", c.input.ChannelOrder, "layout", c.input.Layout, "input_size", c.input.Size)

		m, err := c.load(ctx)
		if err == nil {
			err = c.checkDeclaredClasses(m)
			if err != nil {
				_ = m.Close()
			}
		}

		c.mu.Lock()
		if err != nil {
			c.loadErr = err
			c.mu.Unlock()
			c.state.Store(int32(StateFailed))
			slog.Error("Model load failed", "error", err)
			return
		}
		c.model = m
		c.mu.Unlock()
		c.state.Store(int32(StateReady))
		slog.Info("Model ready", "classes", c.catalog.Len())
	})
	return c.LoadError()
}

func (c *Classifier) checkDeclaredClasses(m Inferer) error {
	if m == nil {
		return errors.New("loader returned no model")
	}
	if n := m.Classes(); n > 0 && n != c.catalog.Len() {
		return &MismatchError{Want: c.catalog.Len(), Got: n}
	}
	return nil
}

// Classify runs the model and returns the scores unchanged. Scores are
// already softmax-normalized by the model's last layer.
func (c *Classifier) Classify(ctx context.Context, t *onnx.Tensor) ([]float32, error) {
	if !c.Ready() {
		if err := c.LoadError(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrModelNotReady, err)
		}
		return nil, ErrModelNotReady
	}
	// The read lock is held for the whole inference so Close cannot free the
	// session underneath a running call.
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.model == nil {
		return nil, ErrModelNotReady
	}

	scores, err := c.model.Infer(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	if len(scores) != c.catalog.Len() {
		err := &MismatchError{Want: c.catalog.Len(), Got: len(scores)}
		slog.Error("Class count mismatch", "want", err.Want, "got", err.Got)
		return nil, err
	}
	return scores, nil
}

// Warmup runs n inferences on a neutral input so the first request does not
// pay for lazy allocations inside the runtime.
func (c *Classifier) Warmup(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	size := c.input.Size
	if size <= 0 {
		size = preprocess.DefaultInputSize
	}
	data := mempool.GetFloat32(3 * size * size)
	defer mempool.PutFloat32(data)
	for i := range data {
		data[i] = 0
	}
	t, err := onnx.NewImageTensor(data, c.input.Layout, size, size, 3)
	if err != nil {
		return fmt.Errorf("warmup tensor: %w", err)
	}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.Classify(ctx, &t); err != nil {
			return fmt.Errorf("warmup %d: %w", i+1, err)
		}
	}
	slog.Debug("Model warmup complete", "iterations", n)
	return nil
}

// Close releases the model once in-flight Classify calls have returned. The
// classifier is not usable afterwards.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model == nil {
		return nil
	}
	err := c.model.Close()
	c.model = nil
	c.state.Store(int32(StateUninitialized))
	return err
}
