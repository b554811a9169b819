package mailer

import (
	"context"
	"fmt"
	"time"

	auth "github.com/goliatone/go-session-auth"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue is the queue mail jobs are published to
const DefaultQueue = "auth.mail"

// AMQPSender publishes jobs to a durable RabbitMQ queue. A connection is
// opened per job, mail volume is low and this keeps no broker state around.
type AMQPSender struct {
	url     string
	queue   string
	timeout time.Duration
	dial    func(url string) (*amqp.Connection, error)
	logger  auth.Logger
}

// NewAMQPSender creates a new AMQPSender instance
func NewAMQPSender(url, queue string, logger auth.Logger) *AMQPSender {
	if queue == "" {
		queue = DefaultQueue
	}
	return &AMQPSender{
		url:     url,
		queue:   queue,
		timeout: 5 * time.Second,
		dial:    amqp.Dial,
		logger:  logger,
	}
}

func (s *AMQPSender) Send(ctx context.Context, job Job) error {
	body, err := job.Encode()
	if err != nil {
		return fmt.Errorf("encode mail job: %w", err)
	}

	conn, err := s.dial(s.url)
	if err != nil {
		s.logger.Error("rabbitmq dial failed", "error", err)
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", s.queue, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = ch.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    job.CreatedAt,
		Type:         string(job.Template),
		Body:         body,
	})
	if err != nil {
		s.logger.Error("rabbitmq publish failed", "queue", s.queue, "template", job.Template, "error", err)
		return fmt.Errorf("publish mail job: %w", err)
	}

	s.logger.Debug("mail job published", "queue", s.queue, "template", job.Template)
	return nil
}
