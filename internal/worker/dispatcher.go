package worker

import (
	"context"
	"errors"
	"log/slog"

	"convertd/internal/formats"
	"convertd/internal/logging"
	"convertd/internal/queue"
	"convertd/internal/settings"
)

// Dispatcher hands accepted uploads to the broker.
type Dispatcher struct {
	broker queue.Broker
	logger *slog.Logger
}

// NewDispatcher returns a dispatcher publishing to broker.
func NewDispatcher(broker queue.Broker, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{broker: broker, logger: logging.NewComponentLogger(logger, "dispatcher")}
}

// Enqueue submits a conversion and returns its job id without waiting for it
// to run. Broker failures are returned as-is; there is no local fallback.
func (d *Dispatcher) Enqueue(ctx context.Context, filename string, content []byte, target string, bundle settings.Bundle) (string, error) {
	if bundle == nil {
		return "", errors.New("settings bundle is required")
	}
	category, ok := formats.CategoryForFilename(filename)
	if !ok {
		category = bundle.Category()
	}
	job, err := queue.NewJob(filename, category, target, bundle, content)
	if err != nil {
		return "", err
	}
	id, err := d.broker.Enqueue(ctx, job)
	if err != nil {
		logging.ErrorWithContext(d.logger, "enqueue failed", "enqueue_failed",
			logging.String("file", filename),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check broker connectivity"),
		)
		return "", err
	}
	d.logger.Info("job enqueued",
		logging.String(logging.FieldJobID, id),
		logging.String("file", filename),
		logging.String("category", string(category)),
		logging.String("target", job.TargetFormat),
		logging.Int("bytes", len(content)),
	)
	return id, nil
}
