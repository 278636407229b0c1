// Package prediction ranks model scores and projects one canonical result
// into the response schemas of the different callers.
package prediction

import (
	"fmt"
	"math"
	"sort"

	"github.com/MeKo-Tech/leafcheck/internal/catalog"
)

const (
	// TopKMinimal is the number of predictions in the minimal schema.
	TopKMinimal = 3
	// TopKDetailed is the number of predictions in the detailed and contract schemas.
	TopKDetailed = 5
)

// Entry is one ranked class.
type Entry struct {
	Index      int
	Label      string
	Confidence float32
}

// Percent returns the confidence scaled to 0..100.
func (e Entry) Percent() float64 { return float64(e.Confidence) * 100 }

// Ranking is ordered by descending confidence, ties by ascending index. NaN
// scores rank below every number.
type Ranking []Entry

// Rank orders all class indices by score and keeps the first k.
// k <= 0 or k > len(scores) keeps all of them.
func Rank(scores []float32, cat *catalog.Catalog, k int) Ranking {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	// Stable over ascending indices, so equal scores keep the lower index first.
	sort.SliceStable(idx, func(a, b int) bool { return ranksAbove(scores[idx[a]], scores[idx[b]]) })

	if k <= 0 || k > len(idx) {
		k = len(idx)
	}
	r := make(Ranking, k)
	for i := 0; i < k; i++ {
		r[i] = Entry{Index: idx[i], Label: labelFor(cat, idx[i]), Confidence: scores[idx[i]]}
	}
	return r
}

// ranksAbove is a strict weak order on scores: descending, with NaN last.
func ranksAbove(a, b float32) bool {
	aNaN, bNaN := math.IsNaN(float64(a)), math.IsNaN(float64(b))
	if aNaN || bNaN {
		return !aNaN && bNaN
	}
	return a > b
}

func labelFor(cat *catalog.Catalog, i int) string {
	if cat == nil || i >= cat.Len() {
		return fmt.Sprintf("Class_%d", i)
	}
	return cat.Label(i)
}

// Top returns the first entry, or the zero Entry when r is empty.
func (r Ranking) Top() Entry {
	if len(r) == 0 {
		return Entry{}
	}
	return r[0]
}

// Head returns at most the first k entries.
func (r Ranking) Head(k int) Ranking {
	if k <= 0 || k >= len(r) {
		return r
	}
	return r[:k]
}

// Labels returns the labels in rank order.
func (r Ranking) Labels() []string {
	out := make([]string, len(r))
	for i, e := range r {
		out[i] = e.Label
	}
	return out
}
