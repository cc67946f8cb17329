package status

import (
	"context"
	"fmt"
	"log/slog"

	"convertd/internal/artifact"
	"convertd/internal/logging"
	"convertd/internal/queue"
)

// Kind is the reported lifecycle state.
type Kind string

const (
	Queued     Kind = "queued"
	Processing Kind = "processing"
	Completed  Kind = "completed"
	Failed     Kind = "failed"
)

const unknownError = "unknown error"

// Artifact names a finished output.
type Artifact struct {
	FileID       string
	Filename     string
	OriginalName string
}

// JobStatus is the reconciled view of one job.
type JobStatus struct {
	Kind     Kind
	Percent  int
	Message  string
	Artifact *Artifact
	Reason   string
	// Token is the raw queue token, kept for diagnostics.
	Token queue.Status
}

// Reconciler merges artifact presence with queue state.
type Reconciler struct {
	store  artifact.Store
	broker queue.Broker
	logger *slog.Logger
}

// NewReconciler returns a reconciler over store and broker.
func NewReconciler(store artifact.Store, broker queue.Broker, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		broker: broker,
		logger: logging.NewComponentLogger(logger, "status"),
	}
}

// Status reports the state of jobID. An artifact on disk wins over whatever
// the queue says.
func (r *Reconciler) Status(ctx context.Context, jobID string) (JobStatus, error) {
	if st, ok, err := r.fromArtifact(ctx, jobID); err != nil || ok {
		return st, err
	}

	state, err := r.broker.Query(ctx, jobID)
	if err != nil {
		return JobStatus{}, fmt.Errorf("query job %s: %w", jobID, err)
	}

	if state.Ready {
		if state.Successful {
			// The worker may have saved between the two reads.
			if st, ok, err := r.fromArtifact(ctx, jobID); err != nil || ok {
				return st, err
			}
			r.logger.Debug("result recorded without artifact",
				logging.String(logging.FieldJobID, jobID),
			)
			return fromResult(state), nil
		}
		reason := state.Error
		if reason == "" {
			reason = unknownError
		}
		return JobStatus{Kind: Failed, Reason: reason, Token: state.Token}, nil
	}

	if state.Token.Active() || state.Message != "" {
		return JobStatus{
			Kind:    Processing,
			Percent: state.Percent,
			Message: state.Message,
			Token:   state.Token,
		}, nil
	}
	return JobStatus{Kind: Queued, Token: state.Token}, nil
}

func (r *Reconciler) fromArtifact(ctx context.Context, jobID string) (JobStatus, bool, error) {
	rec, found, err := r.store.Find(ctx, jobID)
	if err != nil {
		return JobStatus{}, false, fmt.Errorf("look up artifact for %s: %w", jobID, err)
	}
	if !found {
		return JobStatus{}, false, nil
	}
	return JobStatus{
		Kind:    Completed,
		Percent: 100,
		Artifact: &Artifact{
			FileID:       rec.JobID,
			Filename:     rec.StoredName,
			OriginalName: rec.OriginalName(),
		},
	}, true, nil
}

// fromResult maps a successful task's structured result. A completed result
// whose artifact is already gone (reaped) is still reported as completed;
// /result answers 404 for it.
func fromResult(state queue.State) JobStatus {
	res := state.Result
	if res == nil {
		return JobStatus{Kind: Failed, Reason: unknownError, Token: state.Token}
	}
	if res.Status == queue.ResultFailed {
		reason := res.Error
		if reason == "" {
			reason = unknownError
		}
		return JobStatus{Kind: Failed, Reason: reason, Token: state.Token}
	}
	return JobStatus{
		Kind:    Completed,
		Percent: 100,
		Token:   state.Token,
		Artifact: &Artifact{
			FileID:       res.FileID,
			Filename:     res.Filename,
			OriginalName: res.OriginalName,
		},
	}
}
