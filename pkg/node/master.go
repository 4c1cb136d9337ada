package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lioia/siterank/pkg/graph"
	"github.com/lioia/siterank/pkg/metrics"
	"github.com/lioia/siterank/pkg/rank"
	"github.com/lioia/siterank/pkg/utils"
	"github.com/lioia/siterank/pkg/wire"

	gonanoid "github.com/matoous/go-nanoid/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Publisher is the subset of *amqp.Channel used to send messages
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// QueueAggregator distributes the segmented sum of every iteration over the
// work queue: segments are split in one job per worker and the sums are
// collected from the result queue, correlated by a per-iteration batch id
type QueueAggregator struct {
	publisher   Publisher
	workQueue   string
	resultQueue string
	jobs        func() int    // Number of jobs per iteration
	Timeout     time.Duration // Upper bound of a single iteration
	mutex       sync.Mutex
	pending     map[string]*batch
}

// Results of one iteration; done is closed when Aggregate stops waiting
type batch struct {
	results chan *wire.Result
	done    chan struct{}
}

func NewQueueAggregator(publisher Publisher, workQueue, resultQueue string, jobs func() int) *QueueAggregator {
	return &QueueAggregator{
		publisher:   publisher,
		workQueue:   workQueue,
		resultQueue: resultQueue,
		jobs:        jobs,
		Timeout:     time.Minute,
		pending:     make(map[string]*batch),
	}
}

func (a *QueueAggregator) Aggregate(ctx context.Context, t *graph.Transitions, current []float64) ([]float64, error) {
	sums := make([]float64, len(t.Segments))
	ranges := rank.Partition(len(t.Segments), max(a.jobs(), 1))
	if len(ranges) == 0 {
		return sums, nil
	}
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}
	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	b := &batch{results: make(chan *wire.Result, len(ranges)), done: make(chan struct{})}
	a.register(id, b)
	defer a.unregister(id)

	// Map: publish one job per range of segments
	for _, r := range ranges {
		job := wire.Job{Batch: id}
		for i := r.Start; i < r.End; i++ {
			segment := t.Segments[i]
			ranks := make([]float64, segment.End-segment.Start)
			for k := segment.Start; k < segment.End; k++ {
				ranks[k-segment.Start] = current[t.Sources[k]]
			}
			job.Segments = append(job.Segments, wire.Segment{
				Index:   int32(i),
				Weights: t.Weights[segment.Start:segment.End],
				Ranks:   ranks,
			})
		}
		err := a.publisher.PublishWithContext(ctx,
			"",
			a.workQueue, // routing key
			false,       // mandatory
			false,
			amqp.Publishing{
				DeliveryMode:  amqp.Persistent,
				ContentType:   wire.ContentType,
				CorrelationId: id,
				ReplyTo:       a.resultQueue,
				Body:          wire.MarshalJob(&job),
			})
		if err != nil {
			return nil, fmt.Errorf("publish job: %w", err)
		}
		metrics.QueueJobsTotal.WithLabelValues("master").Inc()
	}
	utils.NodeLog("master", "Published %d job(s) for batch %s", len(ranges), id)

	// Collect: every segment is filled once, redelivered results are ignored
	filled := make([]bool, len(sums))
	for remaining := len(sums); remaining > 0; {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case result := <-b.results:
			for k, index := range result.Indexes {
				if index < 0 || int(index) >= len(sums) {
					return nil, fmt.Errorf("%w: segment %d out of range", wire.ErrMalformed, index)
				}
				if filled[index] {
					continue
				}
				filled[index] = true
				sums[index] = result.Sums[k]
				remaining -= 1
			}
		}
	}
	return sums, nil
}

func (a *QueueAggregator) register(id string, b *batch) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.pending[id] = b
}

func (a *QueueAggregator) unregister(id string) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if b, ok := a.pending[id]; ok {
		close(b.done)
		delete(a.pending, id)
	}
}

// Dispatch routes result messages to the Aggregate call waiting for their
// batch until msgs is closed. A result is only dropped once its batch is
// finished; duplicates are discarded by Aggregate
func (a *QueueAggregator) Dispatch(msgs <-chan amqp.Delivery) {
	for msg := range msgs {
		result, err := wire.UnmarshalResult(msg.Body)
		if err != nil {
			utils.WarnLog("master", "Dropping malformed result: %v", err)
			if err := msg.Reject(false); err != nil {
				utils.WarnLog("master", "Could not reject result: %v", err)
			}
			continue
		}
		a.mutex.Lock()
		b, ok := a.pending[result.Batch]
		a.mutex.Unlock()
		if ok {
			select {
			case b.results <- result:
			case <-b.done:
				ok = false
			}
		}
		if !ok {
			utils.NodeLog("master", "Dropping result of stale batch %s", result.Batch)
		}
		// Ack
		if err := msg.Ack(false); err != nil {
			utils.WarnLog("master", "Could not acknowledge result: %v", err)
		}
	}
}

// Rank computes the top sites of store: on the workers through the queues
// when at least one worker is alive, on this node otherwise
func (n *Node) Rank(ctx context.Context, store *graph.EdgeStore, transport string) (*rank.Report, error) {
	if n.Role != Master {
		return nil, fmt.Errorf("node %s is not the master", n.Connection)
	}
	var aggregator rank.Aggregator
	if n.aggregator != nil && len(n.pruneWorkers()) > 0 {
		aggregator = n.aggregator
	}
	opts := rank.Options{
		Damping:       n.Config.Damping,
		Threshold:     n.Config.Threshold,
		MaxIterations: n.Config.MaxIterations,
		Workers:       n.Config.Workers,
		Observer: func(iteration int, convergence float64) {
			metrics.Convergence.Set(convergence)
			utils.NodeLog("master", "Iteration %d: convergence %g", iteration, convergence)
		},
	}
	metrics.Sites.Set(float64(store.Registry().Len()))
	report, err := rank.Compute(ctx, store, aggregator, opts)
	if err != nil {
		metrics.RankRequestsTotal.WithLabelValues(transport, "error").Inc()
		utils.WarnLog("master", "Rank failed: %v", err)
		return nil, err
	}
	metrics.RankRequestsTotal.WithLabelValues(transport, "ok").Inc()
	metrics.RankDuration.WithLabelValues(transport).Observe(report.Elapsed.Seconds())
	metrics.Iterations.Observe(float64(report.Iterations))
	utils.NodeLog("master", "Convergence check success (%d iterations)", report.Iterations)
	return report, nil
}

// Master checks every joined worker and removes the crashed ones
func (n *Node) pruneWorkers() []string {
	var alive []string
	for _, v := range n.Workers() {
		worker, err := ApiCall(v)
		if err != nil {
			utils.WarnLog("master", "Worker %s crashed", v)
			continue
		}
		_, err = worker.Client.HealthCheck(worker.Ctx, &emptypb.Empty{})
		worker.Close()
		if err != nil {
			utils.WarnLog("master", "Worker %s crashed", v)
			continue
		}
		alive = append(alive, v)
	}
	n.setWorkers(alive)
	return alive
}

// InitializeMaster registers the result queue consumer and routes aggregation
// through the work queue; must run before the API is served
func (n *Node) InitializeMaster() error {
	// Register consumer
	msgs, err := n.Queue.Channel.Consume(
		n.Queue.Result.Name, // queue
		n.Id,                // consumer
		false,               // auto-ack
		false,               // exclusive
		false,               // no-local
		false,               // no-wait
		nil,                 // args
	)
	if err != nil {
		return fmt.Errorf("could not register a consumer for %s queue: %w", n.Queue.Result.Name, err)
	}
	utils.NodeLog("master", "Registered consumer for queue %s", n.Queue.Result.Name)
	n.aggregator = NewQueueAggregator(n.Queue.Channel, n.Queue.Work.Name, n.Queue.Result.Name,
		func() int { return len(n.Workers()) })
	go n.aggregator.Dispatch(msgs)
	return nil
}

func (n *Node) masterUpdate(ctx context.Context) error {
	server := NewHttpServer(n)
	errs := make(chan error, 1)
	go func() {
		utils.ServerLog("Starting HTTP server at %s", n.HttpAddress)
		if err := server.Start(n.HttpAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	select {
	case <-ctx.Done():
	case err := <-errs:
		return fmt.Errorf("http server: %w", err)
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdown)
}
