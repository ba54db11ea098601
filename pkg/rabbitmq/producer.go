package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/hcpvision/induction-sync/internal/observability"
)

// Producer publishes JSON messages straight to named queues via the default exchange.
type Producer struct {
	mu       sync.Mutex
	url      string
	conn     *amqp.Connection
	channel  *amqp.Channel
	opts     Options
	declared map[string]bool
	log      *zap.Logger
}

// NewProducer creates and returns a new Producer.
func NewProducer(amqpURL string, opts Options, logger *zap.Logger) (*Producer, error) {
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

	return &Producer{
		url:      amqpURL,
		conn:     conn,
		channel:  ch,
		opts:     opts,
		declared: make(map[string]bool),
		log:      logger.With(zap.String("component", "rabbitmq_producer")),
	}, nil
}

// DeclareQueue declares name once per channel.
func (p *Producer) DeclareQueue(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.declareLocked(name)
}

func (p *Producer) declareLocked(name string) error {
	if p.declared[name] {
		return nil
	}
	if err := declareQueue(p.channel, name, p.opts); err != nil {
		return err
	}
	p.declared[name] = true
	return nil
}

// PublishJSON marshals body and publishes it as a persistent message to queueName.
func (p *Producer) PublishJSON(ctx context.Context, queueName string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		observability.PublishedMessages.WithLabelValues(queueName, "error").Inc()
		return fmt.Errorf("failed to marshal message for %s: %w", queueName, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.publishLocked(ctx, queueName, payload); err != nil {
		p.log.Warn("publish failed; reopening channel", zap.String("queue", queueName), zap.Error(err))
		// One-shot retry on a fresh channel.
		if reopenErr := p.reopenLocked(); reopenErr != nil {
			observability.PublishedMessages.WithLabelValues(queueName, "error").Inc()
			return fmt.Errorf("failed to publish to %s: %w", queueName, err)
		}
		if err := p.publishLocked(ctx, queueName, payload); err != nil {
			observability.PublishedMessages.WithLabelValues(queueName, "error").Inc()
			return fmt.Errorf("failed to publish to %s: %w", queueName, err)
		}
	}

	observability.PublishedMessages.WithLabelValues(queueName, "ok").Inc()
	return nil
}

func (p *Producer) publishLocked(ctx context.Context, queueName string, payload []byte) error {
	if err := p.declareLocked(queueName); err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx,
		"",        // exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         payload,
		},
	)
}

// reopenLocked replaces the channel, redialing first if the connection was lost.
func (p *Producer) reopenLocked() error {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := dial(p.url, p.opts)
		if err != nil {
			return err
		}
		p.conn = conn
		p.log.Info("rabbitmq connection re-established")
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	if p.channel != nil {
		p.channel.Close()
	}
	p.channel = ch
	p.declared = make(map[string]bool)
	return nil
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
