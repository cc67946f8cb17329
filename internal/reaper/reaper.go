package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"convertd/internal/artifact"
	"convertd/internal/config"
	"convertd/internal/logging"
	"convertd/internal/queue"
)

// Result summarizes one pass.
type Result struct {
	Removed []artifact.Record
	Errors  []CleanupError
	Pruned  int64
	// Debris counts temp files and empty job directories swept from stores
	// that keep them.
	Debris int
	// Skipped is set when another reaper held the lock.
	Skipped bool
}

// CleanupError pairs an artifact with its removal error.
type CleanupError struct {
	StoredName string
	Err        error
}

// Reaper removes expired artifacts.
type Reaper struct {
	store     artifact.Store
	pruner    queue.Pruner
	ttl       time.Duration
	resultTTL time.Duration
	schedule  string
	lock      *flock.Flock
	logger    *slog.Logger
	now       func() time.Time
	passes    singleflight.Group
}

// Option customizes a Reaper.
type Option func(*Reaper)

// WithPruner prunes finished queue records on every pass.
func WithPruner(p queue.Pruner) Option {
	return func(r *Reaper) { r.pruner = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) { r.now = now }
}

// New builds a reaper for store using the TTL, schedule and lock path from cfg.
func New(cfg *config.Config, store artifact.Store, logger *slog.Logger, opts ...Option) (*Reaper, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("reaper requires config and artifact store")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.ReaperLockPath()), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	r := &Reaper{
		store:     store,
		ttl:       cfg.ArtifactTTL(),
		resultTTL: cfg.ResultTTL(),
		schedule:  cfg.Reaper.Schedule,
		lock:      flock.New(cfg.ReaperLockPath()),
		logger:    logging.NewComponentLogger(logger, "reaper"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// TTL returns the artifact time-to-live.
func (r *Reaper) TTL() time.Duration { return r.ttl }

// RunOnce performs a single pass. Concurrent calls in one process share a
// pass; a pass in another process makes this one skip.
func (r *Reaper) RunOnce(ctx context.Context) Result {
	v, _, _ := r.passes.Do("pass", func() (any, error) {
		return r.runLocked(ctx), nil
	})
	return v.(Result)
}

func (r *Reaper) runLocked(ctx context.Context) Result {
	locked, err := r.lock.TryLock()
	if err != nil {
		logging.WarnWithContext(r.logger, "reaper lock unavailable", "reaper_lock_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check state_dir permissions"),
			logging.String(logging.FieldImpact, "expired artifacts are kept until the next pass"),
		)
		return Result{Skipped: true}
	}
	if !locked {
		r.logger.Debug("another reaper holds the lock; skipping pass")
		return Result{Skipped: true}
	}
	defer func() {
		if err := r.lock.Unlock(); err != nil {
			r.logger.Warn("failed to release reaper lock", logging.Error(err))
		}
	}()

	result := r.sweep(ctx)
	result.Debris = r.sweepDebris(ctx)
	if r.pruner != nil && r.resultTTL > 0 {
		pruned, err := r.pruner.PruneFinished(ctx, r.now().Add(-r.resultTTL))
		if err != nil {
			logging.WarnWithContext(r.logger, "queue prune failed", "queue_prune_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the queue database"),
				logging.String(logging.FieldImpact, "finished job records accumulate"),
			)
		}
		result.Pruned = pruned
	}
	if len(result.Removed) > 0 || result.Pruned > 0 || result.Debris > 0 {
		r.logger.Info("reaper pass finished",
			logging.Int("removed", len(result.Removed)),
			logging.Int("errors", len(result.Errors)),
			logging.Int64("pruned", result.Pruned),
			logging.Int("debris", result.Debris),
			logging.String(logging.FieldEventType, "reaper_pass"),
		)
	}
	return result
}

// sweep removes every record whose age exceeds the TTL. Records that vanish
// between listing and removal are not errors.
func (r *Reaper) sweep(ctx context.Context) Result {
	result := Result{}
	records, err := r.store.List(ctx)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Err: err})
		logging.WarnWithContext(r.logger, "failed to list artifacts", "reaper_list_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check artifact_dir or bucket access"),
			logging.String(logging.FieldImpact, "expired artifacts are kept until the next pass"),
		)
		return result
	}

	now := r.now()
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		age := now.Sub(rec.CreatedAt)
		if age <= r.ttl {
			continue
		}
		err := r.store.Remove(ctx, rec.StoredName)
		switch {
		case err == nil:
			result.Removed = append(result.Removed, rec)
			r.logger.Info("removed expired artifact",
				logging.String(logging.FieldJobID, rec.JobID),
				logging.String("file", rec.StoredName),
				logging.Duration("age", age),
				logging.String(logging.FieldEventType, "artifact_expired"),
			)
		case errors.Is(err, artifact.ErrNotFound):
		default:
			result.Errors = append(result.Errors, CleanupError{StoredName: rec.StoredName, Err: err})
			logging.WarnWithContext(r.logger, "failed to remove expired artifact", "reaper_remove_failed",
				logging.String("file", rec.StoredName),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check artifact_dir permissions"),
				logging.String(logging.FieldImpact, "storage not reclaimed"),
			)
		}
	}
	return result
}

// sweepDebris clears leftovers of interrupted writes that are older than the
// TTL, for stores that can have them.
func (r *Reaper) sweepDebris(ctx context.Context) int {
	sweeper, ok := r.store.(artifact.DebrisSweeper)
	if !ok || ctx.Err() != nil {
		return 0
	}
	n, err := sweeper.SweepDebris(ctx, r.now().Add(-r.ttl))
	if err != nil {
		logging.WarnWithContext(r.logger, "failed to sweep artifact debris", "reaper_debris_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check artifact_dir permissions"),
			logging.String(logging.FieldImpact, "interrupted writes keep their disk space"),
		)
	}
	return n
}

// Run executes passes on the configured schedule until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(r.schedule, func() { r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule reaper %q: %w", r.schedule, err)
	}
	r.logger.Info("reaper scheduled",
		logging.String("schedule", r.schedule),
		logging.Duration("ttl", r.ttl),
	)
	// Evict anything that expired while the daemon was down.
	r.RunOnce(ctx)
	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	return nil
}
