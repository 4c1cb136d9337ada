package rank

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/lioia/siterank/pkg/graph"
)

type RankedSite struct {
	Label string  `json:"label" yaml:"label"`
	Score float64 `json:"score" yaml:"score"`
}

type Report struct {
	Top         TopK
	Labels      [K]string // Label of every valid slot of Top
	Ranks       []float64 // Full rank vector, indexed by site id
	Iterations  int
	Convergence float64
	Elapsed     time.Duration // Iteration and top-k selection
}

// Compute ranks every site of the store and selects the top K.
// A nil aggregator reduces segments locally
func Compute(ctx context.Context, store *graph.EdgeStore, aggregator Aggregator, opts Options) (*Report, error) {
	transitions := store.Transitions()
	engine := NewEngine(transitions, aggregator, opts)

	start := time.Now()
	result, err := engine.Run(ctx)
	if err != nil {
		return nil, err
	}
	top, err := SelectParallel(ctx, result.Ranks, engine.Options().Workers)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	report := &Report{
		Top:         top,
		Ranks:       result.Ranks,
		Iterations:  result.Iterations,
		Convergence: result.Convergence,
		Elapsed:     elapsed,
	}
	for i, slot := range top {
		if slot.Valid {
			report.Labels[i] = store.Registry().Label(slot.ID)
		}
	}
	return report, nil
}

// Valid sites of the top K with their labels
func (r *Report) Ranked() []RankedSite {
	sites := make([]RankedSite, 0, K)
	for i, slot := range r.Top {
		if slot.Valid {
			sites = append(sites, RankedSite{Label: r.Labels[i], Score: slot.Score})
		}
	}
	return sites
}

// Write prints the elapsed milliseconds followed by exactly K
// "<label>: <score>" lines; empty slots are printed as "-: -1"
func (r *Report) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Duration:%d\n", r.Elapsed.Milliseconds()); err != nil {
		return err
	}
	for i, slot := range r.Top {
		label := "-"
		if slot.Valid {
			label = r.Labels[i]
		}
		if _, err := fmt.Fprintf(w, "%s: %s\n", label, FormatScore(slot.Score)); err != nil {
			return err
		}
	}
	return nil
}

// Six significant digits, shortest representation
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'g', 6, 64)
}
