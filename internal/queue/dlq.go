package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/therealutkarshpriyadarshi/framescribe/pkg/models"
)

// Failed jobs are routed by the queue name through a direct exchange
const (
	DeadLetterQueueName    = "framescribe_remote_jobs_dlq"
	DeadLetterExchangeName = "framescribe_dlq"
)

// declareDeadLetter declares where rejected and failed jobs are parked.
// The job queue names the exchange as its dead letter target, so this
// runs first.
func (q *Queue) declareDeadLetter() error {
	if err := q.channel.ExchangeDeclare(DeadLetterExchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	// Parked jobs are reprocessed by hand and never expire
	if _, err := q.channel.QueueDeclare(DeadLetterQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	if err := q.channel.QueueBind(DeadLetterQueueName, DeadLetterQueueName, DeadLetterExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}
	return nil
}

// Dead letter headers. The body is the original job, so an operator can
// republish it to the job queue unchanged.
const (
	HeaderJobID      = "x-job-id"
	HeaderVideoID    = "x-video-id"
	HeaderObject     = "x-source-object"
	HeaderModelID    = "x-model-id"
	HeaderErrorType  = "x-error-type"
	HeaderReason     = "x-failure-reason"
	HeaderFailedAt   = "x-failed-at"
	HeaderEnqueuedAt = "x-enqueued-at"
)

// PublishToDeadLetterQueue parks a job whose processing failed with cause
func (q *Queue) PublishToDeadLetterQueue(ctx context.Context, job *models.RemoteJob, cause error) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	errorType := q.errorType(cause)
	failedAt := time.Now().UTC()
	headers := amqp.Table{
		HeaderJobID:     job.ID,
		HeaderVideoID:   job.VideoID,
		HeaderObject:    job.Bucket + "/" + job.ObjectKey,
		HeaderErrorType: errorType,
		HeaderReason:    cause.Error(),
		HeaderFailedAt:  failedAt.Format(time.RFC3339),
	}
	if job.ModelID != "" {
		headers[HeaderModelID] = job.ModelID
	}
	if !job.CreatedAt.IsZero() {
		headers[HeaderEnqueuedAt] = job.CreatedAt.UTC().Format(time.RFC3339)
	}

	err = q.pub.PublishWithContext(ctx,
		DeadLetterExchangeName,
		DeadLetterQueueName,
		false,
		false,
		amqp.Publishing{
			DeliveryMode:  amqp.Persistent,
			ContentType:   "application/json",
			MessageId:     job.ID,
			CorrelationId: job.VideoID,
			Type:          errorType,
			Body:          body,
			Timestamp:     failedAt,
			Headers:       headers,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	q.logger.LogJobEvent(job.ID, "dead_lettered", models.VideoStatusFailed, map[string]interface{}{
		"video_id":   job.VideoID,
		"error_type": errorType,
		"reason":     cause.Error(),
	})
	return nil
}

func (q *Queue) errorType(err error) string {
	if q.classify == nil {
		return "unclassified"
	}
	return q.classify(err)
}

// GetDLQDepth returns the number of messages in the dead letter queue
func (q *Queue) GetDLQDepth() (int, error) {
	info, err := q.channel.QueueInspect(DeadLetterQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect DLQ: %w", err)
	}

	return info.Messages, nil
}
