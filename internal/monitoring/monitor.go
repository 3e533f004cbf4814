// Package monitoring polls queue depths into the metrics registry.
package monitoring

import (
	"context"
	"time"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/queue"
)

// DefaultInterval is how often depths are collected
const DefaultInterval = 15 * time.Second

// QueueProvider reports queue depths
type QueueProvider interface {
	GetQueueDepth() (int, error)
	GetDLQDepth() (int, error)
}

// Monitor exports job and dead letter queue depths as gauges
type Monitor struct {
	queues   QueueProvider
	interval time.Duration
	logger   *logging.Logger
}

// NewMonitor creates a monitor. interval <= 0 uses DefaultInterval.
func NewMonitor(queues QueueProvider, interval time.Duration, logger *logging.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Monitor{
		queues:   queues,
		interval: interval,
		logger:   logger.WithComponent("monitoring"),
	}
}

// Start collects once, then every interval until ctx is done
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		m.Collect()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Collect()
			}
		}
	}()
}

// Collect reads both depths. A failed read leaves the previous value.
func (m *Monitor) Collect() {
	if depth, err := m.queues.GetQueueDepth(); err != nil {
		m.logger.WithError(err).Warn("Failed to read queue depth")
	} else {
		metrics.SetQueueDepth(queue.RemoteQueueName, depth)
	}

	dlqDepth, err := m.queues.GetDLQDepth()
	if err != nil {
		m.logger.WithError(err).Warn("Failed to read dead letter queue depth")
		return
	}
	metrics.SetQueueDepth(queue.DeadLetterQueueName, dlqDepth)
	if dlqDepth > 0 {
		m.logger.WithField("depth", dlqDepth).Debug("Dead letter queue is not empty")
	}
}
