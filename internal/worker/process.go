package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"convertd/internal/formats"
	"convertd/internal/logging"
	"convertd/internal/queue"
	"convertd/internal/services"
)

// Checkpoint names and the progress they publish.
const (
	StagePrepare = "prepare"
	StageStart   = "start"
	StageConvert = "convert"
	StageSave    = "save"
	StageDone    = "done"
)

var stagePercent = map[string]int{
	StagePrepare: 15,
	StageStart:   20,
	StageConvert: 50,
	StageSave:    90,
	StageDone:    100,
}

// Process runs job through every checkpoint. A non-nil error means the task
// itself failed (cancellation or storage); conversion problems come back as a
// failed Result with a nil error.
func (m *Manager) Process(ctx context.Context, job *queue.Job) (queue.Result, error) {
	if err := m.enter(ctx, job.ID, StagePrepare); err != nil {
		return queue.Result{}, err
	}
	bundle, err := job.Bundle()
	if err != nil {
		return queue.FailedResult("invalid conversion settings: %v", err), nil
	}
	ext := strings.ToLower(filepath.Ext(job.Filename))
	category, ok := formats.CategoryForExtension(ext)
	if !ok {
		return queue.FailedResult("Unsupported file type: %s", ext), nil
	}

	if err := m.enter(ctx, job.ID, StageStart); err != nil {
		return queue.Result{}, err
	}
	conv, ok := m.registry.For(category)
	if !ok {
		return queue.FailedResult("no converter registered for %s files", category), nil
	}

	if err := m.enter(ctx, job.ID, StageConvert); err != nil {
		return queue.Result{}, err
	}
	convertCtx, cancel := context.WithTimeout(ctx, m.convertTimeout)
	output, err := conv.Convert(convertCtx, job.Payload, job.TargetFormat, bundle)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return queue.Result{}, ctx.Err()
		}
		return queue.FailedResult("%v", err), nil
	}

	if err := m.enter(ctx, job.ID, StageSave); err != nil {
		return queue.Result{}, err
	}
	stem := strings.TrimSuffix(job.Filename, filepath.Ext(job.Filename))
	name := fmt.Sprintf("%s.%s", stem, formats.NormalizeExtension(job.TargetFormat))
	rec, err := m.store.Put(context.WithoutCancel(ctx), job.ID, name, output)
	if err != nil {
		return queue.Result{}, services.Wrap(services.ErrStorage, StageSave, "store artifact", name, err)
	}

	// The artifact is stored, so a cancellation here no longer changes the
	// outcome.
	_ = m.enter(context.WithoutCancel(ctx), job.ID, StageDone)
	return queue.CompletedResult(job.ID, rec.StoredName, rec.OriginalName()), nil
}

// enter checks for cancellation and publishes the stage's progress.
func (m *Manager) enter(ctx context.Context, jobID, stage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = services.WithStage(ctx, stage)
	if err := m.consumer.ReportProgress(ctx, jobID, stagePercent[stage], stage); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.WithContext(ctx, m.logger).Warn("progress update failed", logging.Error(err))
	}
	return nil
}
