package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/courseloop/hookrelay/internal/delivery"
)

// NSQQueue publishes delivery tasks to an NSQ topic. Delayed retries use
// deferred publishes so no worker ever sleeps on a backoff.
type NSQQueue struct {
	prod  *nsq.Producer
	topic string
}

// NewNSQ connects a producer to nsqd and returns the queue.
func NewNSQ(nsqdTCPAddr, topic string) (*NSQQueue, error) {
	prod, err := nsq.NewProducer(nsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	return &NSQQueue{prod: prod, topic: topic}, nil
}

// Publish enqueues the task, deferred by delay when positive.
func (q *NSQQueue) Publish(_ context.Context, task delivery.Task, delay time.Duration) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if delay > 0 {
		if err := q.prod.DeferredPublish(q.topic, delay, body); err != nil {
			return fmt.Errorf("nsq deferred publish: %w", err)
		}
		return nil
	}
	if err := q.prod.Publish(q.topic, body); err != nil {
		return fmt.Errorf("nsq publish: %w", err)
	}
	return nil
}

// Close stops the producer.
func (q *NSQQueue) Close() error {
	q.prod.Stop()
	return nil
}

// NewConsumer builds an NSQ consumer for the deliveries topic. The caller
// attaches a handler and connects it; connecting directly to nsqd first
// forces channel creation instead of waiting for the first publish.
func NewConsumer(topic, channel string, maxInFlight int) (*nsq.Consumer, error) {
	conf := nsq.NewConfig()
	conf.MaxInFlight = maxInFlight
	consumer, err := nsq.NewConsumer(topic, channel, conf)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer: %w", err)
	}
	return consumer, nil
}
