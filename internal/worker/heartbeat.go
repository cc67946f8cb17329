package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"convertd/internal/logging"
	"convertd/internal/queue"
)

// HeartbeatMonitor stamps running jobs and reclaims stale ones.
type HeartbeatMonitor struct {
	consumer queue.Consumer
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewHeartbeatMonitor creates a monitor for consumer.
func NewHeartbeatMonitor(consumer queue.Consumer, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		consumer: consumer,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
	}
}

// ReclaimStale returns jobs whose heartbeat expired to the pending state. It
// is a no-op for consumers that reclaim on delivery (Redis).
func (h *HeartbeatMonitor) ReclaimStale(ctx context.Context) error {
	reclaimer, ok := h.consumer.(queue.Reclaimer)
	if !ok || h.timeout <= 0 {
		return nil
	}
	reclaimed, err := reclaimer.ReclaimStale(ctx, time.Now().Add(-h.timeout))
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		h.logger.Info("reclaimed stale jobs", logging.Int64("count", reclaimed))
	}
	return nil
}

// StartLoop stamps jobID every interval until ctx is cancelled.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID string) {
	defer wg.Done()
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.consumer.Heartbeat(ctx, jobID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
