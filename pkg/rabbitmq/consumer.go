/**
 * @description
 * This package provides the RabbitMQ consumer and producer used by the induction sync.
 * The consumer owns acknowledgment: handlers return a Decision and the consumer settles
 * the delivery exactly once.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The Go client for RabbitMQ.
 * - go.uber.org/zap: Structured logging.
 *
 * @notes
 * - Deliveries are dispatched one at a time with prefetch (default 1), so a batch is
 *   never acknowledged before its handler has returned.
 * - Heartbeats are negotiated by the client library on its own goroutine and keep the
 *   connection alive while a long batch is being processed.
 * - A panicking handler results in a reject, never in a lost or double-settled delivery.
 */
package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/hcpvision/induction-sync/internal/observability"
)

// Decision is the acknowledgment a handler asks for.
type Decision int

const (
	// Ack removes the delivery from the queue.
	Ack Decision = iota
	// Reject drops the delivery without requeue (dead-lettered when a DLX is configured).
	Reject
	// Requeue returns the delivery to the queue for another attempt.
	Requeue
)

func (d Decision) String() string {
	switch d {
	case Ack:
		return "ack"
	case Reject:
		return "reject"
	case Requeue:
		return "requeue"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Handler processes one delivery body.
type Handler func(ctx context.Context, body []byte) Decision

// ErrDeliveriesClosed is returned by Consume when the broker closes the delivery stream.
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// Consumer holds the connection and channel for RabbitMQ.
type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	opts Options
	log  *zap.Logger
}

// NewConsumer connects, opens a channel and applies the prefetch limit.
func NewConsumer(amqpURL string, opts Options, logger *zap.Logger) (*Consumer, error) {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := dial(amqpURL, opts)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.Qos(opts.Prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	return &Consumer{conn: conn, ch: ch, opts: opts, log: logger.With(zap.String("component", "rabbitmq_consumer"))}, nil
}

// DeclareQueue declares the durable queue the consumer reads from.
func (c *Consumer) DeclareQueue(name string) error {
	return declareQueue(c.ch, name, c.opts)
}

// Consume declares queueName and blocks dispatching deliveries to handler until ctx is
// cancelled or the broker closes the stream.
func (c *Consumer) Consume(ctx context.Context, queueName string, handler Handler) error {
	if err := c.DeclareQueue(queueName); err != nil {
		return err
	}

	tag := "induction-sync-" + uuid.NewString()
	msgs, err := c.ch.Consume(
		queueName, // queue
		tag,       // consumer
		false,     // auto-ack is false, we will manually acknowledge
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return err
	}

	c.log.Info("consuming", zap.String("queue", queueName), zap.String("consumer_tag", tag), zap.Int("prefetch", c.opts.Prefetch))
	err = serve(ctx, queueName, msgs, handler, c.log)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if cancelErr := c.ch.Cancel(tag, false); cancelErr != nil {
			c.log.Warn("failed to cancel consumer", zap.Error(cancelErr))
		}
	}
	return err
}

// serve is the dispatch loop. It is separate from Consume so it can run against a
// plain delivery channel.
func serve(ctx context.Context, queueName string, msgs <-chan amqp.Delivery, handler Handler, log *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return ErrDeliveriesClosed
			}
			decision := dispatch(ctx, d, handler, log)
			settle(d, decision, log)
			observability.Deliveries.WithLabelValues(queueName, decision.String()).Inc()
		}
	}
}

func dispatch(ctx context.Context, d amqp.Delivery, handler Handler, log *zap.Logger) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked, rejecting delivery", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Any("panic", r))
			decision = Reject
		}
	}()
	// Shutdown stops the loop between deliveries; the in-flight one runs to completion.
	return handler(context.WithoutCancel(ctx), d.Body)
}

func settle(d amqp.Delivery, decision Decision, log *zap.Logger) {
	var err error
	switch decision {
	case Ack:
		err = d.Ack(false)
	case Requeue:
		log.Warn("requeueing delivery", zap.Uint64("delivery_tag", d.DeliveryTag))
		err = d.Nack(false, true)
	default:
		log.Warn("rejecting delivery", zap.Uint64("delivery_tag", d.DeliveryTag))
		err = d.Nack(false, false)
	}
	if err != nil {
		log.Error("failed to settle delivery", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Stringer("decision", decision), zap.Error(err))
	}
}

// Close closes the RabbitMQ channel and connection.
func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
