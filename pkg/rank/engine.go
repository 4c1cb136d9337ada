package rank

import (
	"context"
	"errors"
	"fmt"

	"github.com/lioia/siterank/pkg/graph"
	"gonum.org/v1/gonum/floats"
)

const (
	DefaultDamping       = 0.2
	DefaultThreshold     = 1e-6
	DefaultMaxIterations = 1000
	InitialRank          = 1.0
)

var ErrNotConverged = errors.New("failed to converge")

// State can be treated as an enum
type State int32

const (
	Running   State = iota // Convergence scalar still above threshold
	Converged              // Terminal
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Converged:
		return "Converged"
	}
	return "Undefined"
}

type Options struct {
	Damping       float64 // Weight of the aggregated incoming rank
	Threshold     float64 // Convergence tolerance
	MaxIterations int     // Iteration cap
	Workers       int     // Goroutines for local aggregation and top-k selection
	// Called after every iteration with its convergence scalar
	Observer func(iteration int, convergence float64)
}

func (o Options) withDefaults() Options {
	if o.Damping <= 0 || o.Damping >= 1 {
		o.Damping = DefaultDamping
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	return o
}

// Rank of a site with no incoming edges
func Baseline(damping float64) float64 {
	return 1 - damping
}

// Aggregator computes, for every segment of the transitions, the sum of
// weight * current[source] over the segment's edges (sums[i] <-> t.Segments[i])
type Aggregator interface {
	Aggregate(ctx context.Context, t *graph.Transitions, current []float64) ([]float64, error)
}

type Result struct {
	Ranks       []float64 // Final rank of every site
	Iterations  int
	Convergence float64 // Last convergence scalar
}

// Engine runs damped power iteration over double-buffered rank vectors
//
// R_(i+1)(u) = d * sum_(v in B_u) (R_i(v) / N_v) + (1 - d)
type Engine struct {
	transitions *graph.Transitions
	aggregator  Aggregator
	opts        Options
	current     []float64
	next        []float64
	state       State
	iterations  int
	convergence float64
}

func NewEngine(t *graph.Transitions, aggregator Aggregator, opts Options) *Engine {
	opts = opts.withDefaults()
	if aggregator == nil {
		aggregator = LocalAggregator{Workers: opts.Workers}
	}
	e := &Engine{
		transitions: t,
		aggregator:  aggregator,
		opts:        opts,
		current:     make([]float64, t.Nodes),
		next:        make([]float64, t.Nodes),
		state:       Running,
	}
	fill(e.current, InitialRank)
	fill(e.next, Baseline(opts.Damping))
	return e
}

func (e *Engine) State() State {
	return e.state
}

func (e *Engine) Iterations() int {
	return e.iterations
}

func (e *Engine) Convergence() float64 {
	return e.convergence
}

func (e *Engine) Options() Options {
	return e.opts
}

// Current rank vector; must not be modified
func (e *Engine) Ranks() []float64 {
	return e.current
}

// Step runs a single iteration and returns its convergence scalar
func (e *Engine) Step(ctx context.Context) (float64, error) {
	if e.state == Converged {
		return e.convergence, nil
	}
	sums, err := e.aggregator.Aggregate(ctx, e.transitions, e.current)
	if err != nil {
		return 0, fmt.Errorf("aggregate iteration %d: %w", e.iterations+1, err)
	}
	if len(sums) != len(e.transitions.Segments) {
		return 0, fmt.Errorf("aggregate iteration %d: got %d sums for %d segments",
			e.iterations+1, len(sums), len(e.transitions.Segments))
	}
	// Sites without incoming edges keep the baseline next was filled with
	for i, segment := range e.transitions.Segments {
		e.next[segment.Destination] = sums[i]*e.opts.Damping + Baseline(e.opts.Damping)
	}
	e.convergence = floats.Distance(e.current, e.next, 1)
	e.iterations += 1

	e.current, e.next = e.next, e.current
	fill(e.next, Baseline(e.opts.Damping))

	if e.convergence <= e.opts.Threshold {
		e.state = Converged
	}
	if e.opts.Observer != nil {
		e.opts.Observer(e.iterations, e.convergence)
	}
	return e.convergence, nil
}

// Run iterates until convergence, the iteration cap or ctx cancellation
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	for e.state == Running {
		if e.iterations >= e.opts.MaxIterations {
			return nil, fmt.Errorf("%w after %d iterations (convergence %g)",
				ErrNotConverged, e.iterations, e.convergence)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := e.Step(ctx); err != nil {
			return nil, err
		}
	}
	return &Result{
		Ranks:       e.current,
		Iterations:  e.iterations,
		Convergence: e.convergence,
	}, nil
}

func fill(s []float64, v float64) {
	for i := range s {
		s[i] = v
	}
}
