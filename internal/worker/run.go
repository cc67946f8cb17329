package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"convertd/internal/logging"
	"convertd/internal/queue"
	"convertd/internal/services"
)

// finishTimeout bounds recording a job's outcome after its context ended.
const finishTimeout = 10 * time.Second

// blocking is implemented by consumers whose Next already waits for work.
type blocking interface {
	Blocking() bool
}

func (m *Manager) runWorker(ctx context.Context, index int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", index))

	for {
		if ctx.Err() != nil {
			return
		}

		// One worker per process handles reclamation.
		if m.reclaimStale && index == 0 {
			if err := m.heartbeat.ReclaimStale(ctx); err != nil {
				logging.WarnWithContext(logger, "reclaim stale jobs failed; stuck jobs may remain", "heartbeat_reclaim_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
		}

		job, err := m.consumer.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleNextError(ctx, logger, err)
			continue
		}
		if job == nil {
			m.waitForJob(ctx)
			continue
		}
		m.handle(ctx, logger, job)
	}
}

func (m *Manager) handleNextError(ctx context.Context, logger *slog.Logger, err error) {
	logging.ErrorWithContext(logger, "failed to fetch next job", "queue_fetch_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check broker connectivity"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.retryInterval):
	}
}

func (m *Manager) waitForJob(ctx context.Context) {
	if b, ok := m.consumer.(blocking); ok && b.Blocking() {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}

// handle processes job and records its outcome even when ctx was cancelled
// mid-job.
func (m *Manager) handle(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	jobCtx := services.WithJobID(ctx, job.ID)
	logger = logging.WithContext(jobCtx, logger)
	started := time.Now()
	logger.Info("job started",
		logging.String("file", job.Filename),
		logging.String("target", job.TargetFormat),
	)

	hbCtx, stopHeartbeat := context.WithCancel(jobCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	result, err := m.Process(jobCtx, job)

	stopHeartbeat()
	hbWG.Wait()

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(jobCtx), finishTimeout)
	defer cancel()

	switch {
	case err == nil:
		if recErr := m.consumer.Complete(finishCtx, job.ID, result); recErr != nil {
			logging.ErrorWithContext(logger, "failed to record job result", "result_record_failed",
				logging.Error(recErr),
				logging.String(logging.FieldErrorHint, "check broker connectivity"),
			)
			return
		}
		if result.Status == queue.ResultFailed {
			logging.WarnWithContext(logger, "conversion failed", "conversion_failed",
				logging.String("reason", result.Error),
				logging.Duration("elapsed", time.Since(started)),
				logging.String(logging.FieldErrorHint, "check the source file and conversion options"),
				logging.String(logging.FieldImpact, "job reported as failed"),
			)
			return
		}
		logger.Info("job completed",
			logging.String("artifact", result.Filename),
			logging.Duration("elapsed", time.Since(started)),
		)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		if recErr := m.consumer.Fail(finishCtx, job.ID, queue.StopReason); recErr != nil {
			logger.Warn("failed to record interrupted job", logging.Error(recErr))
		}
		logger.Info("job interrupted by shutdown")
	default:
		if recErr := m.consumer.Fail(finishCtx, job.ID, err.Error()); recErr != nil {
			logger.Warn("failed to record job failure", logging.Error(recErr))
		}
		logging.ErrorWithContext(logger, "job failed", "job_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check artifact storage"),
		)
	}
}
