package rank

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const K = 5

type Site struct {
	ID    int32
	Score float64
}

// Slot of a TopK; empty slots report ID -1 and Score -1
type Slot struct {
	Site
	Valid bool
}

var emptySlot = Slot{Site: Site{ID: -1, Score: -1}}

// TopK holds the K highest sites, sorted by descending score
// (ties by ascending id), empty slots last
type TopK [K]Slot

// Identity of Merge
func Empty() TopK {
	var t TopK
	for i := range t {
		t[i] = emptySlot
	}
	return t
}

func Singleton(id int32, score float64) TopK {
	t := Empty()
	t[0] = Slot{Site: Site{ID: id, Score: score}, Valid: true}
	return t
}

// ahead reports whether s ranks strictly before o
func (s Slot) ahead(o Slot) bool {
	if !s.Valid {
		return false
	}
	if !o.Valid {
		return true
	}
	if s.Score != o.Score {
		return s.Score > o.Score
	}
	return s.ID < o.ID
}

// Merge returns the top K of the union of a and b.
// It is associative and commutative, with Empty() as identity
func Merge(a, b TopK) TopK {
	var result TopK
	i, j := 0, 0
	// i + j == k < K, so neither index can run past the end
	for k := range result {
		var slot Slot
		if b[j].ahead(a[i]) {
			slot = b[j]
			j += 1
		} else {
			slot = a[i]
			i += 1
		}
		if !slot.Valid {
			slot = emptySlot
		}
		result[k] = slot
	}
	return result
}

// Sequential reduction over the rank vector
func Select(ranks []float64) TopK {
	top := Empty()
	for id, score := range ranks {
		top = Merge(top, Singleton(int32(id), score))
	}
	return top
}

// SelectParallel reduces contiguous chunks of the rank vector on separate
// goroutines, then merges the partial results pairwise
func SelectParallel(ctx context.Context, ranks []float64, workers int) (TopK, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunks := Partition(len(ranks), workers)
	if len(chunks) == 0 {
		return Empty(), nil
	}
	partials := make([]TopK, len(chunks))
	g, ctx := errgroup.WithContext(ctx)
	for c, r := range chunks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			top := Empty()
			for id := r.Start; id < r.End; id++ {
				top = Merge(top, Singleton(int32(id), ranks[id]))
			}
			partials[c] = top
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Empty(), err
	}
	for len(partials) > 1 {
		level := make([]TopK, 0, (len(partials)+1)/2)
		for i := 0; i < len(partials); i += 2 {
			if i+1 < len(partials) {
				level = append(level, Merge(partials[i], partials[i+1]))
			} else {
				level = append(level, partials[i])
			}
		}
		partials = level
	}
	return partials[0], nil
}

// Valid sites only
func (t TopK) Sites() []Site {
	sites := make([]Site, 0, K)
	for _, slot := range t {
		if slot.Valid {
			sites = append(sites, slot.Site)
		}
	}
	return sites
}
