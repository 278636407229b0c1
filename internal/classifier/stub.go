package classifier

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/onnx"
)

// StubInferer returns a fixed score vector. It stands in for the model in
// tests and when the service runs with --stub-model.
type StubInferer struct {
	Scores []float32
	// Declared is reported by Classes; zero means dynamic.
	Declared int
	Err      error
	Delay    time.Duration

	calls atomic.Int64
}

// NewStubInferer returns a stub that puts confidence on class top and spreads
// the rest evenly over the other n-1 classes.
func NewStubInferer(n, top int, confidence float32) *StubInferer {
	scores := make([]float32, n)
	rest := float32(0)
	if n > 1 {
		rest = (1 - confidence) / float32(n-1)
	}
	for i := range scores {
		scores[i] = rest
	}
	if top >= 0 && top < n {
		scores[top] = confidence
	}
	return &StubInferer{Scores: scores, Declared: n}
}

// StubLoader returns a Loader that yields s.
func StubLoader(s *StubInferer) Loader {
	return func(context.Context) (Inferer, error) { return s, nil }
}

func (s *StubInferer) Infer(ctx context.Context, _ *onnx.Tensor) ([]float32, error) {
	s.calls.Add(1)
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]float32, len(s.Scores))
	copy(out, s.Scores)
	return out, nil
}

func (s *StubInferer) Classes() int { return s.Declared }

func (s *StubInferer) Close() error { return nil }

// Calls returns how many times Infer ran.
func (s *StubInferer) Calls() int64 { return s.calls.Load() }
