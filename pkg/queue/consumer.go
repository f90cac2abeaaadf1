package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/showgrid/catalog-ingest/pkg/types"
)

// Handler processes one dequeued job envelope. A non-nil error means the
// job is done for good; the pipeline never requeues a failed job.
type Handler func(ctx context.Context, msg types.JobMessage) error

// Consumer pulls job envelopes off the ingestion queue one at a time.
type Consumer struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
}

// NewConsumer connects to RabbitMQ, declares the ingestion queue and limits
// prefetch to one so each worker instance holds a single job at a time.
func NewConsumer(rabbitURL, queueName string) (*Consumer, error) {
	conn, err := connectWithRetry(rabbitURL, 10, 5*time.Second)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := channel.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	log.WithField("queue", queueName).Info("connected to RabbitMQ")

	return &Consumer{
		conn:      conn,
		channel:   channel,
		queueName: queueName,
	}, nil
}

// Start consumes messages until ctx is cancelled or the channel closes.
// Envelopes are acked after the handler returns; handler errors nack
// without requeue, the job's failure already being recorded in progress.
func (c *Consumer) Start(ctx context.Context, handler Handler) error {
	msgs, err := c.channel.Consume(
		c.queueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	log.WithField("queue", c.queueName).Info("waiting for job envelopes")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery, handler Handler) {
	var msg types.JobMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		log.WithError(err).Error("dropping malformed job envelope")
		delivery.Nack(false, false)
		return
	}

	if err := handler(ctx, msg); err != nil {
		log.WithError(err).WithField("job_id", msg.JobID).Error("job processing failed")
		delivery.Nack(false, false)
		return
	}

	delivery.Ack(false)
}

// Close closes the consumer connection.
func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
