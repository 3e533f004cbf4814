package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/config"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/framescribe/pkg/models"
)

const (
	RemoteQueueName = "framescribe_remote_jobs"
	ExchangeName    = "framescribe"
)

// JobHandler processes one remote job
type JobHandler func(ctx context.Context, job *models.RemoteJob) error

// publisher is the slice of amqp.Channel used to publish
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// FailureClassifier names the kind of error a handler returned
type FailureClassifier func(err error) string

// Queue provides message queue operations
type Queue struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	pub      publisher
	classify FailureClassifier
	logger   *logging.Logger

	consumers sync.WaitGroup
}

// URL builds the AMQP connection URL
func URL(cfg config.QueueConfig) string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)
}

// New connects and declares the job and dead letter topology
func New(cfg config.QueueConfig, logger *logging.Logger) (*Queue, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	conn, err := amqp.Dial(URL(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q := &Queue{
		conn:    conn,
		channel: channel,
		pub:     channel,
		logger:  logger.WithComponent("queue"),
	}

	if err := q.declare(); err != nil {
		q.Close()
		return nil, err
	}

	return q, nil
}

func (q *Queue) declare() error {
	// Declare exchange
	err := q.channel.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := q.declareDeadLetter(); err != nil {
		return err
	}

	// Rejected messages go to the dead letter exchange
	_, err = q.channel.QueueDeclare(
		RemoteQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    DeadLetterExchangeName,
			"x-dead-letter-routing-key": DeadLetterQueueName,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	// Bind queue to exchange
	err = q.channel.QueueBind(
		RemoteQueueName,
		RemoteQueueName,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// SetFailureClassifier sets how handler errors are labelled on dead letters
func (q *Queue) SetFailureClassifier(fn FailureClassifier) {
	q.classify = fn
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// PublishRemoteJob publishes a remote job to the queue
func (q *Queue) PublishRemoteJob(ctx context.Context, job *models.RemoteJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.pub.PublishWithContext(ctx,
		ExchangeName,
		RemoteQueueName,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    job.ID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	q.logger.LogJobEvent(job.ID, "published", models.VideoStatusProcessing, map[string]interface{}{
		"video_id": job.VideoID,
		"object":   job.Bucket + "/" + job.ObjectKey,
	})
	return nil
}

// ConsumeJobs starts consuming jobs from the queue, one at a time
func (q *Queue) ConsumeJobs(ctx context.Context, handler JobHandler) error {
	// Set QoS to limit concurrent processing
	err := q.channel.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		RemoteQueueName,
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

	q.consumers.Add(1)
	go func() {
		defer q.consumers.Done()
		q.consume(ctx, msgs, handler)
	}()

	return nil
}

// Wait blocks until every consumer started by ConsumeJobs has returned
func (q *Queue) Wait() {
	q.consumers.Wait()
}

// consume handles deliveries until ctx is done or msgs closes. A job that
// has started runs to completion after ctx is done; a delivery that
// arrives after that is requeued for another worker.
func (q *Queue) consume(ctx context.Context, msgs <-chan amqp.Delivery, handler JobHandler) {
	jobCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				msg.Nack(false, true)
				return
			}
			q.handleDelivery(jobCtx, msg, handler)
		}
	}
}

// handleDelivery acks a processed job. Undecodable messages are rejected
// into the dead letter queue, failed jobs are republished there with the
// failure details. Nothing is requeued.
func (q *Queue) handleDelivery(ctx context.Context, msg amqp.Delivery, handler JobHandler) {
	var job models.RemoteJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		q.logger.WithError(err).Warn("Discarding malformed job message")
		msg.Nack(false, false)
		return
	}

	if err := job.Validate(); err != nil {
		q.logger.WithError(err).Warn("Discarding invalid job")
		msg.Nack(false, false)
		return
	}

	if err := handler(ctx, &job); err != nil {
		if dlqErr := q.PublishToDeadLetterQueue(ctx, &job, err); dlqErr != nil {
			q.logger.WithJobID(job.ID).WithError(dlqErr).Error("Failed to dead-letter job")
			msg.Nack(false, false)
			return
		}
		msg.Ack(false)
		return
	}

	msg.Ack(false)
}

// GetQueueDepth returns the number of messages in the queue
func (q *Queue) GetQueueDepth() (int, error) {
	info, err := q.channel.QueueInspect(RemoteQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}
