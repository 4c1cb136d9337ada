package node

import (
	"context"
	"fmt"
	"time"

	"github.com/lioia/siterank/pkg/metrics"
	"github.com/lioia/siterank/pkg/utils"
	"github.com/lioia/siterank/pkg/wire"

	amqp "github.com/rabbitmq/amqp091-go"
	"gonum.org/v1/gonum/floats"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// HandleJob reduces every segment of an encoded job to its sum
func HandleJob(body []byte) (*wire.Result, error) {
	job, err := wire.UnmarshalJob(body)
	if err != nil {
		return nil, err
	}
	result := &wire.Result{
		Batch:   job.Batch,
		Indexes: make([]int32, len(job.Segments)),
		Sums:    make([]float64, len(job.Segments)),
	}
	for i, segment := range job.Segments {
		result.Indexes[i] = segment.Index
		result.Sums[i] = floats.Dot(segment.Weights, segment.Ranks)
	}
	return result, nil
}

// Handle a work queue message and publish its result to the reply queue
// (resultQueue when the message does not name one)
func handleDelivery(ctx context.Context, publisher Publisher, d amqp.Delivery, resultQueue string) {
	result, err := HandleJob(d.Body)
	if err != nil {
		utils.WarnLog("worker", "Dropping malformed job: %v", err)
		if err := d.Reject(false); err != nil {
			utils.WarnLog("worker", "Could not reject job: %v", err)
		}
		return
	}
	replyTo := d.ReplyTo
	if replyTo == "" {
		replyTo = resultQueue
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = publisher.PublishWithContext(ctx,
		"",
		replyTo, // routing key
		false,   // mandatory
		false,
		amqp.Publishing{
			DeliveryMode:  amqp.Persistent,
			ContentType:   wire.ContentType,
			CorrelationId: d.CorrelationId,
			Body:          wire.MarshalResult(result),
		})
	if err != nil {
		utils.FailOnNack(d, err)
		return
	}
	metrics.QueueJobsTotal.WithLabelValues("worker").Inc()
	// Ack
	if err := d.Ack(false); err != nil {
		utils.WarnLog("worker", "Could not acknowledge job: %v", err)
	}
}

func (n *Node) workerUpdate(ctx context.Context) error {
	// Register consumer
	msgs, err := n.Queue.Channel.Consume(
		n.Queue.Work.Name, // queue
		n.Id,              // consumer
		false,             // auto-ack
		false,             // exclusive
		false,             // no-local
		false,             // no-wait
		nil,               // args
	)
	if err != nil {
		return fmt.Errorf("could not register a consumer for %s queue: %w", n.Queue.Work.Name, err)
	}
	utils.NodeLog("worker", "Registered consumer for queue %s", n.Queue.Work.Name)

	// Worker Health Check
	go func() {
		ticker := time.NewTicker(n.HealthCheck)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n.WorkerHealthCheck()
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("work queue %s closed", n.Queue.Work.Name)
			}
			utils.NodeLog("worker", "Computing job of batch %s", d.CorrelationId)
			handleDelivery(ctx, n.Queue.Channel, d, n.Queue.Result.Name)
		}
	}
}

// Worker announces itself to the master on every health check; joining is
// idempotent, and a restarted master learns about this worker again
func (n *Node) WorkerHealthCheck() {
	master, err := ApiCall(n.Master)
	if err != nil {
		utils.WarnLog("worker", "Master %s unreachable: %v", n.Master, err)
		return
	}
	defer master.Close()
	if _, err := master.Client.NodeJoin(master.Ctx, wrapperspb.String(n.Connection)); err != nil {
		utils.WarnLog("worker", "Master %s did not respond: %v", n.Master, err)
	}
}
