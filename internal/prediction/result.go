package prediction

import (
	"errors"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/catalog"
)

// ErrNoScores is returned when the score vector is empty.
var ErrNoScores = errors.New("no scores to rank")

// Meta carries request details that are not derived from the scores.
type Meta struct {
	ImageName      string
	ProcessingTime time.Duration
	ModelVersion   string
	ImageSize      int
}

// Result is the canonical outcome of one successful prediction. Every
// response schema is a projection of it.
type Result struct {
	Ranking Ranking // all classes in rank order
	Top     Entry
	Label   catalog.Label // parsed Top.Label
	Action  string

	ImageName      string
	ProcessingTime time.Duration
	ModelVersion   string
	ImageSize      int
}

// NewResult ranks scores against cat and derives the display fields of the top class.
func NewResult(scores []float32, cat *catalog.Catalog, advice *catalog.Advice, meta Meta) (*Result, error) {
	if len(scores) == 0 {
		return nil, ErrNoScores
	}
	ranking := Rank(scores, cat, 0)
	top := ranking.Top()
	label := catalog.ParseLabel(top.Label)

	return &Result{
		Ranking:        ranking,
		Top:            top,
		Label:          label,
		Action:         advice.Lookup(label.DiseaseName),
		ImageName:      meta.ImageName,
		ProcessingTime: meta.ProcessingTime,
		ModelVersion:   meta.ModelVersion,
		ImageSize:      meta.ImageSize,
	}, nil
}
