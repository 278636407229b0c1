package classifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/catalog"
	"github.com/MeKo-Tech/leafcheck/internal/onnx"
	"github.com/MeKo-Tech/leafcheck/internal/preprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallInput() preprocess.Config {
	cfg := preprocess.DefaultConfig()
	cfg.Size = 8
	return cfg
}

func dummyTensor(t *testing.T) *onnx.Tensor {
	t.Helper()
	tensor, err := onnx.NewImageTensor(make([]float32, 8*8*3), onnx.LayoutNHWC, 8, 8, 3)
	require.NoError(t, err)
	return &tensor
}

func TestClassifierLifecycle(t *testing.T) {
	cat := catalog.Default()
	stub := NewStubInferer(cat.Len(), 5, 0.9)
	release := make(chan struct{})

	c := New(cat, smallInput(), func(ctx context.Context) (Inferer, error) {
		<-release
		return stub, nil
	})
	assert.Equal(t, StateUninitialized, c.State())

	_, err := c.Classify(context.Background(), dummyTensor(t))
	assert.ErrorIs(t, err, ErrModelNotReady)

	done := make(chan error)
	go func() { done <- c.Load(context.Background()) }()

	require.Eventually(t, func() bool { return c.State() == StateLoading }, time.Second, time.Millisecond)
	_, err = c.Classify(context.Background(), dummyTensor(t))
	assert.ErrorIs(t, err, ErrModelNotReady)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateReady, c.State())
	assert.True(t, c.Ready())
	assert.NoError(t, c.LoadError())

	scores, err := c.Classify(context.Background(), dummyTensor(t))
	require.NoError(t, err)
	assert.Equal(t, stub.Scores, scores)
}

func TestClassifierLoadFailure(t *testing.T) {
	boom := errors.New("model file missing")
	c := New(catalog.Default(), smallInput(), func(context.Context) (Inferer, error) { return nil, boom })

	err := c.Load(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, c.State())
	assert.False(t, c.Ready())

	_, err = c.Classify(context.Background(), dummyTensor(t))
	assert.ErrorIs(t, err, ErrModelNotReady)
	assert.ErrorIs(t, err, boom)
}

func TestClassifierDeclaredMismatchFailsLoad(t *testing.T) {
	cat := catalog.Default()
	stub := NewStubInferer(cat.Len()+1, 0, 0.5)

	c := New(cat, smallInput(), StubLoader(stub))
	err := c.Load(context.Background())

	require.ErrorIs(t, err, ErrClassCountMismatch)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, cat.Len(), mismatch.Want)
	assert.Equal(t, cat.Len()+1, mismatch.Got)
	assert.Equal(t, StateFailed, c.State())
}

func TestClassifyDetectsRuntimeMismatch(t *testing.T) {
	cat := catalog.Default()
	stub := NewStubInferer(4, 0, 0.5)
	stub.Declared = 0 // dynamic output, only detectable at run time

	c, err := NewWithInferer(cat, smallInput(), stub)
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), dummyTensor(t))
	require.ErrorIs(t, err, ErrClassCountMismatch)
	assert.Contains(t, err.Error(), "produces 4 scores")
}

func TestClassifyReturnsScoresUnchanged(t *testing.T) {
	cat, err := catalog.New([]string{"A___x", "B___y", "C___healthy"})
	require.NoError(t, err)
	stub := &StubInferer{Scores: []float32{0.2, 0.3, 0.1}}

	c, err := NewWithInferer(cat, smallInput(), stub)
	require.NoError(t, err)

	scores, err := c.Classify(context.Background(), dummyTensor(t))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.2, 0.3, 0.1}, scores)
}

func TestClassifyPropagatesInferenceError(t *testing.T) {
	cat := catalog.Default()
	stub := NewStubInferer(cat.Len(), 0, 0.5)
	stub.Err = errors.New("session run failed")

	c, err := NewWithInferer(cat, smallInput(), stub)
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), dummyTensor(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session run failed")
	assert.NotErrorIs(t, err, ErrModelNotReady)
}

func TestLoadRunsOnce(t *testing.T) {
	cat := catalog.Default()
	var calls int
	var mu sync.Mutex
	c := New(cat, smallInput(), func(context.Context) (Inferer, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return NewStubInferer(cat.Len(), 0, 0.5), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Load(context.Background())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
	assert.True(t, c.Ready())
}

func TestWarmup(t *testing.T) {
	cat := catalog.Default()
	stub := NewStubInferer(cat.Len(), 0, 0.5)
	c, err := NewWithInferer(cat, smallInput(), stub)
	require.NoError(t, err)

	require.NoError(t, c.Warmup(context.Background(), 3))
	assert.Equal(t, int64(3), stub.Calls())

	require.NoError(t, c.Warmup(context.Background(), 0))
	assert.Equal(t, int64(3), stub.Calls())
}

func TestWarmupNotReady(t *testing.T) {
	c := New(catalog.Default(), smallInput(), nil)
	assert.ErrorIs(t, c.Warmup(context.Background(), 1), ErrModelNotReady)
}

func TestCloseResetsState(t *testing.T) {
	cat := catalog.Default()
	c, err := NewWithInferer(cat, smallInput(), NewStubInferer(cat.Len(), 0, 0.5))
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.Equal(t, StateUninitialized, c.State())
	_, err = c.Classify(context.Background(), dummyTensor(t))
	assert.ErrorIs(t, err, ErrModelNotReady)
}

// gatedInferer blocks in Infer until released and records whether Close ran
// while an inference was still inside the session.
type gatedInferer struct {
	n       int
	entered chan struct{}
	release chan struct{}

	mu             sync.Mutex
	inside         bool
	closed         bool
	closedMidInfer bool
}

func (g *gatedInferer) Infer(context.Context, *onnx.Tensor) ([]float32, error) {
	g.mu.Lock()
	g.inside = true
	g.mu.Unlock()
	close(g.entered)
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inside = false
	if g.closed {
		return nil, errors.New("session freed during inference")
	}
	return make([]float32, g.n), nil
}

func (g *gatedInferer) Classes() int { return g.n }

func (g *gatedInferer) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.closedMidInfer = g.inside
	return nil
}

func TestCloseWaitsForInFlightClassify(t *testing.T) {
	cat := catalog.Default()
	g := &gatedInferer{n: cat.Len(), entered: make(chan struct{}), release: make(chan struct{})}
	c, err := NewWithInferer(cat, smallInput(), g)
	require.NoError(t, err)

	classified := make(chan error, 1)
	go func() {
		_, err := c.Classify(context.Background(), dummyTensor(t))
		classified <- err
	}()
	<-g.entered

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while an inference was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(g.release)
	require.NoError(t, <-classified)
	require.NoError(t, <-closed)

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.True(t, g.closed)
	assert.False(t, g.closedMidInfer)
	assert.Equal(t, StateUninitialized, c.State())

	_, err = c.Classify(context.Background(), dummyTensor(t))
	assert.ErrorIs(t, err, ErrModelNotReady)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestNewStubInferer(t *testing.T) {
	s := NewStubInferer(4, 2, 0.7)
	assert.InDelta(t, 0.7, s.Scores[2], 1e-6)
	assert.InDelta(t, 0.1, s.Scores[0], 1e-6)
	var sum float32
	for _, v := range s.Scores {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestStubInfererRespectsContext(t *testing.T) {
	s := NewStubInferer(2, 0, 0.9)
	s.Delay = time.Second
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Infer(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenONNXMissingModel(t *testing.T) {
	_, err := OpenONNX(ModelConfig{ModelPath: "/non/existent/model.onnx"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model file")

	_, err = OpenONNX(ModelConfig{})
	assert.EqualError(t, err, "empty model path")
}
