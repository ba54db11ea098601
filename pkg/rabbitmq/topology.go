package rabbitmq

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const dialTimeout = 10 * time.Second

// Options are shared by consumers and producers so both sides declare identical queues.
type Options struct {
	Heartbeat time.Duration
	Prefetch  int
	// DeadLetterExchange, when set, is attached to every declared queue; rejected
	// deliveries land in "<queue>.dead" instead of being discarded.
	DeadLetterExchange string
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

func dial(amqpURL string, opts Options) (*amqp.Connection, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	return amqp.DialConfig(cleanURL, amqp.Config{
		Heartbeat: opts.Heartbeat,
		Dial:      amqp.DefaultDial(dialTimeout),
	})
}

func queueArgs(name string, opts Options) amqp.Table {
	if opts.DeadLetterExchange == "" {
		return nil
	}
	return amqp.Table{
		"x-dead-letter-exchange":    opts.DeadLetterExchange,
		"x-dead-letter-routing-key": name,
	}
}

// declareQueue declares a durable work queue and, if configured, its dead-letter topology.
// The dead-letter exchange is direct and shared; each work queue's rejects land only in
// its own <name>.dead queue.
func declareQueue(ch *amqp.Channel, name string, opts Options) error {
	if opts.DeadLetterExchange != "" {
		if err := ch.ExchangeDeclare(
			opts.DeadLetterExchange, // name
			"direct",                // type
			true,                    // durable
			false,                   // autoDelete
			false,                   // internal
			false,                   // noWait
			nil,                     // args
		); err != nil {
			return fmt.Errorf("failed to declare dead-letter exchange %s: %w", opts.DeadLetterExchange, err)
		}
		dead := name + ".dead"
		if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dead-letter queue %s: %w", dead, err)
		}
		if err := ch.QueueBind(dead, name, opts.DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind dead-letter queue %s: %w", dead, err)
		}
	}

	if _, err := ch.QueueDeclare(
		name,                  // name
		true,                  // durable
		false,                 // delete when unused
		false,                 // exclusive
		false,                 // no-wait
		queueArgs(name, opts), // arguments
	); err != nil {
		return queueDeclareError(name, opts, err)
	}
	return nil
}

// queueDeclareError explains the usual cause of PRECONDITION_FAILED: the queue already
// exists with different arguments, e.g. declared earlier without a dead-letter exchange.
func queueDeclareError(name string, opts Options, err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed {
		if opts.DeadLetterExchange != "" {
			return fmt.Errorf("failed to declare queue %s: existing queue was declared without dead-letter exchange %s; "+
				"drain and delete it (or unset RABBITMQ_DEAD_LETTER_EXCHANGE): %w", name, opts.DeadLetterExchange, err)
		}
		return fmt.Errorf("failed to declare queue %s: existing queue has a dead-letter exchange; "+
			"set RABBITMQ_DEAD_LETTER_EXCHANGE to match or delete the queue: %w", name, err)
	}
	return fmt.Errorf("failed to declare queue %s: %w", name, err)
}
