package rank

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/lioia/siterank/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomStore(seed int64, sites, edges int) *graph.EdgeStore {
	rng := rand.New(rand.NewSource(seed))
	store := graph.NewEdgeStore(graph.NewRegistry())
	for i := 0; i < edges; i++ {
		store.Link(fmt.Sprintf("s%d", rng.Intn(sites)), fmt.Sprintf("s%d", rng.Intn(sites)))
	}
	return store
}

func TestPartition(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Partition(0, 4))
	assert.Equal(t, []Range{{0, 3}}, Partition(3, 0))
	assert.Equal(t, []Range{{0, 1}, {1, 2}}, Partition(2, 8))
	assert.Equal(t, []Range{{0, 4}, {4, 7}, {7, 10}}, Partition(10, 3))

	for n := 1; n < 40; n++ {
		for parts := 1; parts < 10; parts++ {
			ranges := Partition(n, parts)
			require.Len(t, ranges, min(n, parts))
			assert.Equal(t, 0, ranges[0].Start)
			assert.Equal(t, n, ranges[len(ranges)-1].End)
			for i, r := range ranges {
				assert.Greater(t, r.End, r.Start)
				if i > 0 {
					assert.Equal(t, ranges[i-1].End, r.Start)
				}
			}
		}
	}
}

func TestSegmentSum(t *testing.T) {
	t.Parallel()
	store := graph.NewEdgeStore(graph.NewRegistry())
	store.Link("A", "C")
	store.Link("A", "B")
	store.Link("B", "C")
	tr := store.Transitions()
	current := []float64{2, 3, 5}

	c, _ := store.Registry().Lookup("C")
	for _, segment := range tr.Segments {
		if segment.Destination == c {
			// A=0 C=1 B=2: 0.5 * 2 + 1 * 5
			assert.InDelta(t, 6.0, SegmentSum(tr, segment, current), 1e-12)
		}
	}
}

func TestLocalAggregatorMatchesSequential(t *testing.T) {
	t.Parallel()
	tr := randomStore(7, 200, 2000).Transitions()
	current := make([]float64, tr.Nodes)
	for i := range current {
		current[i] = float64(i%13) / 7
	}

	for _, workers := range []int{0, 1, 3, 64} {
		sums, err := LocalAggregator{Workers: workers}.Aggregate(context.Background(), tr, current)
		require.NoError(t, err)
		require.Len(t, sums, len(tr.Segments))
		for i, segment := range tr.Segments {
			assert.Equal(t, SegmentSum(tr, segment, current), sums[i])
		}
	}
}

func TestLocalAggregatorCancelled(t *testing.T) {
	t.Parallel()
	tr := randomStore(1, 10, 30).Transitions()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LocalAggregator{Workers: 2}.Aggregate(ctx, tr, make([]float64, tr.Nodes))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngineResultIndependentOfWorkers(t *testing.T) {
	t.Parallel()
	store := randomStore(42, 100, 600)
	_, sequential := run(t, store, Options{Workers: 1})
	_, parallel := run(t, store, Options{Workers: 8})
	assert.Equal(t, sequential.Iterations, parallel.Iterations)
	assert.Equal(t, sequential.Ranks, parallel.Ranks)
}
