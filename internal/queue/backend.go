package queue

import (
	"context"
	"fmt"
	"time"

	"convertd/internal/config"
	"convertd/internal/services"
)

// Broker is the producer side used by the API and the status reconciler.
type Broker interface {
	Enqueue(ctx context.Context, job Job) (string, error)
	Query(ctx context.Context, id string) (State, error)
}

// Consumer is the worker side.
type Consumer interface {
	// Next claims the next job. It returns nil, nil when nothing is waiting.
	Next(ctx context.Context) (*Job, error)
	ReportProgress(ctx context.Context, id string, percent int, message string) error
	Heartbeat(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, result Result) error
	Fail(ctx context.Context, id string, reason string) error
}

// Backend is implemented by Store and RedisBroker.
type Backend interface {
	Broker
	Consumer
	Stats(ctx context.Context) (map[Status]int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Reclaimer returns jobs whose heartbeat expired to the pending state.
type Reclaimer interface {
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner deletes finished jobs older than a cutoff.
type Pruner interface {
	PruneFinished(ctx context.Context, before time.Time) (int64, error)
}

// Open connects to the backend selected by cfg.Broker.Backend.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.Broker.Backend {
	case config.BrokerRedis:
		return OpenRedis(ctx, cfg)
	case config.BrokerSQLite, "":
		return OpenStore(cfg)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "queue", "open",
			fmt.Sprintf("unknown broker backend %q", cfg.Broker.Backend), nil)
	}
}

// OrphanFailer fails jobs a previous run of the same consumer left active.
type OrphanFailer interface {
	FailOrphaned(ctx context.Context, reason string) (int64, error)
}

var (
	_ Backend      = (*Store)(nil)
	_ Backend      = (*RedisBroker)(nil)
	_ Reclaimer    = (*Store)(nil)
	_ Pruner       = (*Store)(nil)
	_ OrphanFailer = (*Store)(nil)
	_ OrphanFailer = (*RedisBroker)(nil)
)
