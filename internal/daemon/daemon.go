package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"convertd/internal/api"
	"convertd/internal/artifact"
	"convertd/internal/config"
	"convertd/internal/converter"
	"convertd/internal/intake"
	"convertd/internal/logging"
	"convertd/internal/queue"
	"convertd/internal/reaper"
	"convertd/internal/settings"
	"convertd/internal/status"
	"convertd/internal/worker"
)

// Daemon owns the components of one convertd process.
type Daemon struct {
	cfg    *config.Config
	role   Role
	logger *slog.Logger

	backend queue.Backend
	store   artifact.Store

	api     *api.Server
	workers *worker.Manager
	reaper  *reaper.Reaper

	lockPath string
	lock     *flock.Flock
	running  atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running  bool
	Role     Role
	Broker   string
	Storage  string
	LockPath string
}

// New opens the backends named in cfg and builds the components role needs.
func New(ctx context.Context, cfg *config.Config, role Role, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	backend, err := queue.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open broker: %w", err)
	}
	store, err := artifact.Open(ctx, cfg)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	lockPath := lockPathFor(cfg, role)
	d := &Daemon{
		cfg:      cfg,
		role:     role,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		backend:  backend,
		store:    store,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	if err := d.build(logger); err != nil {
		_ = backend.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) build(logger *slog.Logger) error {
	var opts []reaper.Option
	if pruner, ok := d.backend.(queue.Pruner); ok {
		opts = append(opts, reaper.WithPruner(pruner))
	}
	r, err := reaper.New(d.cfg, d.store, logger, opts...)
	if err != nil {
		return fmt.Errorf("create reaper: %w", err)
	}
	d.reaper = r

	if d.role.runsWorkers() {
		registry := converter.NewDefaultRegistry(d.cfg)
		d.workers = worker.NewManager(d.cfg, d.backend, registry, d.store, logger)
	}

	if d.role.servesAPI() {
		gate, err := intake.NewGate(d.cfg)
		if err != nil {
			return fmt.Errorf("create intake gate: %w", err)
		}
		srv, err := api.NewServer(d.cfg, api.Deps{
			Gate:       gate,
			Resolver:   settings.NewResolver(),
			Dispatcher: worker.NewDispatcher(d.backend, logger),
			Status:     status.NewReconciler(d.store, d.backend, logger),
			Artifacts:  d.store,
		}, logger)
		if err != nil {
			return fmt.Errorf("create api server: %w", err)
		}
		d.api = srv
	}
	return nil
}

// lockPathFor keeps one lock per role so split api and worker processes can
// share a state directory.
func lockPathFor(cfg *config.Config, role Role) string {
	path := cfg.LockPath()
	if role == RoleAll {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + string(role) + ext
}

// Run holds the instance lock and runs every component until ctx is
// cancelled or one of them fails.
func (d *Daemon) Run(ctx context.Context) error {
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another convertd %s instance is already running (lock %s)", d.role, d.lockPath)
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	d.running.Store(true)
	defer d.running.Store(false)
	st := d.Status()
	d.logger.Info("convertd started",
		logging.String("role", string(st.Role)),
		logging.String("broker", st.Broker),
		logging.String("storage", st.Storage),
		logging.String("lock", st.LockPath),
	)

	g, gctx := errgroup.WithContext(ctx)
	if d.api != nil {
		g.Go(func() error { return d.api.Run(gctx) })
	}
	if d.workers != nil {
		g.Go(func() error { return d.workers.Run(gctx) })
	}
	if d.cfg.Reaper.Enabled {
		g.Go(func() error { return d.reaper.Run(gctx) })
	}

	err = g.Wait()
	d.logger.Info("convertd stopped", logging.String("role", string(d.role)))
	return err
}

// Running reports whether Run currently holds the lock.
func (d *Daemon) Running() bool { return d.running.Load() }

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:  d.running.Load(),
		Role:     d.role,
		Broker:   d.cfg.Broker.Backend,
		Storage:  d.cfg.Storage.Backend,
		LockPath: d.lockPath,
	}
}

// Close releases the broker connection.
func (d *Daemon) Close() error {
	if d.backend != nil {
		return d.backend.Close()
	}
	return nil
}
