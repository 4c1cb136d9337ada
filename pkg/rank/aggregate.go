package rank

import (
	"context"
	"runtime"

	"github.com/lioia/siterank/pkg/graph"
	"golang.org/x/sync/errgroup"
)

// Half-open interval of indexes
type Range struct {
	Start int
	End   int
}

// Partition splits [0, n) in at most parts contiguous, non-empty ranges
// whose sizes differ by at most one
func Partition(n, parts int) []Range {
	if n <= 0 {
		return nil
	}
	if parts <= 0 {
		parts = 1
	}
	parts = min(parts, n)
	ranges := make([]Range, parts)
	size, extra := n/parts, n%parts
	start := 0
	for i := range ranges {
		end := start + size
		if i < extra {
			end += 1
		}
		ranges[i] = Range{Start: start, End: end}
		start = end
	}
	return ranges
}

// Sum of weight * rank over the edges of a segment
func SegmentSum(t *graph.Transitions, segment graph.Segment, current []float64) float64 {
	var sum float64
	for i := segment.Start; i < segment.End; i++ {
		sum += t.Weights[i] * current[t.Sources[i]]
	}
	return sum
}

// LocalAggregator reduces segments on goroutines of this process.
// Every goroutine owns a disjoint range of segments
type LocalAggregator struct {
	Workers int // GOMAXPROCS when <= 0
}

func (a LocalAggregator) Aggregate(ctx context.Context, t *graph.Transitions, current []float64) ([]float64, error) {
	workers := a.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	sums := make([]float64, len(t.Segments))
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range Partition(len(t.Segments), workers) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := r.Start; i < r.End; i++ {
				sums[i] = SegmentSum(t, t.Segments[i], current)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sums, nil
}
