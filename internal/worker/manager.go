package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"convertd/internal/artifact"
	"convertd/internal/config"
	"convertd/internal/converter"
	"convertd/internal/logging"
	"convertd/internal/queue"
)

// Manager runs a pool of workers pulling from a queue.Consumer.
type Manager struct {
	consumer queue.Consumer
	registry *converter.Registry
	store    artifact.Store
	logger   *slog.Logger

	workers        int
	pollInterval   time.Duration
	retryInterval  time.Duration
	convertTimeout time.Duration
	reclaimStale   bool

	heartbeat *HeartbeatMonitor

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs a worker pool sized and timed by cfg.
func NewManager(cfg *config.Config, consumer queue.Consumer, registry *converter.Registry, store artifact.Store, logger *slog.Logger) *Manager {
	logger = logging.NewComponentLogger(logger, "worker")
	workers := cfg.Workflow.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Manager{
		consumer:       consumer,
		registry:       registry,
		store:          store,
		logger:         logger,
		workers:        workers,
		pollInterval:   time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		retryInterval:  time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		convertTimeout: cfg.ConvertTimeout(),
		reclaimStale:   cfg.Workflow.ReclaimStale,
		heartbeat: NewHeartbeatMonitor(
			consumer,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
	}
}

// Start launches the worker goroutines.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("worker pool already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(m.workers)
	m.mu.Unlock()

	if !m.reclaimStale {
		m.failOrphaned(ctx)
	}

	m.logger.Info("worker pool started", logging.Int("workers", m.workers))
	for i := range m.workers {
		go m.runWorker(runCtx, i)
	}
	return nil
}

// Stop cancels in-flight work and waits for every worker to record its
// outcome.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("worker pool stopped")
}

// Run starts the pool, blocks until ctx is cancelled, then stops it.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	m.Stop()
	return nil
}

// failOrphaned fails jobs a previous run of this consumer never finished.
func (m *Manager) failOrphaned(ctx context.Context) {
	failer, ok := m.consumer.(queue.OrphanFailer)
	if !ok {
		return
	}
	n, err := failer.FailOrphaned(ctx, queue.StopReason)
	if err != nil {
		logging.WarnWithContext(m.logger, "failed to clear orphaned jobs", "orphan_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check broker connectivity"),
			logging.String(logging.FieldImpact, "interrupted jobs may report processing until they expire"),
		)
		return
	}
	if n > 0 {
		m.logger.Info("failed orphaned jobs from a previous run", logging.Int64("count", n))
	}
}
