package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"convertd/internal/formats"
	"convertd/internal/queue"
	"convertd/internal/settings"
	"convertd/internal/testsupport"
)

func newJob(t *testing.T, name string) queue.Job {
	t.Helper()
	job, err := queue.NewJob(name, formats.Image, "webp", settings.Image{Quality: 80}, []byte("payload-"+name))
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	return job
}

func TestEnqueueAndClaimRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := newJob(t, "photo.jpg")
	id, err := store.Enqueue(ctx, job)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id != job.ID {
		t.Fatalf("expected id %s, got %s", job.ID, id)
	}

	state, err := store.Query(ctx, id)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if state.Token != queue.StatusPending || state.Ready {
		t.Fatalf("unexpected initial state %+v", state)
	}

	claimed, err := store.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if claimed == nil || claimed.ID != id {
		t.Fatalf("expected to claim %s, got %+v", id, claimed)
	}
	if claimed.Filename != "photo.jpg" || claimed.TargetFormat != "webp" || string(claimed.Payload) != "payload-photo.jpg" {
		t.Fatalf("claimed job lost fields: %+v", claimed)
	}
	bundle, err := claimed.Bundle()
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	if img, ok := bundle.(settings.Image); !ok || img.Quality != 80 {
		t.Fatalf("unexpected bundle %#v", bundle)
	}

	again, err := store.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if again != nil {
		t.Fatalf("expected empty queue, got %+v", again)
	}
}

func TestNextClaimsInSubmissionOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := newJob(t, "a.png")
	first.SubmittedAt = time.Now().Add(-time.Minute)
	second := newJob(t, "b.png")
	for _, job := range []queue.Job{second, first} {
		if _, err := store.Enqueue(ctx, job); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	claimed, err := store.Next(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("Next: %v %v", claimed, err)
	}
	if claimed.ID != first.ID {
		t.Fatalf("expected oldest job first, got %s", claimed.Filename)
	}
}

func TestProgressCompleteAndFail(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	ok := newJob(t, "ok.png")
	bad := newJob(t, "bad.png")
	for _, job := range []queue.Job{ok, bad} {
		if _, err := store.Enqueue(ctx, job); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	for range 2 {
		if job, err := store.Next(ctx); err != nil || job == nil {
			t.Fatalf("Next: %v %v", job, err)
		}
	}

	if err := store.ReportProgress(ctx, ok.ID, 50, "convert"); err != nil {
		t.Fatalf("ReportProgress: %v", err)
	}
	state, _ := store.Query(ctx, ok.ID)
	if state.Token != queue.StatusProgress || state.Percent != 50 || state.Message != "convert" || state.Ready {
		t.Fatalf("unexpected progress state %+v", state)
	}

	result := queue.CompletedResult(ok.ID, ok.ID+"_ok.webp", "ok.webp")
	if err := store.Complete(ctx, ok.ID, result); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	state, _ = store.Query(ctx, ok.ID)
	if !state.Ready || !state.Successful || state.Result == nil || *state.Result != result {
		t.Fatalf("unexpected completed state %+v", state)
	}

	if err := store.Fail(ctx, bad.ID, "disk full"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	state, _ = store.Query(ctx, bad.ID)
	if !state.Ready || state.Successful || state.Error != "disk full" {
		t.Fatalf("unexpected failed state %+v", state)
	}

	// Terminal jobs no longer accept progress.
	if err := store.ReportProgress(ctx, ok.ID, 90, "save"); !errors.Is(err, queue.ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestQueryUnknownIsPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	state, err := store.Query(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if state.Token != queue.StatusPending || state.Ready {
		t.Fatalf("expected pending for unknown id, got %+v", state)
	}
}

func TestReclaimStale(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := newJob(t, "stale.png")
	if _, err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}

	n, err := store.ReclaimStale(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("fresh heartbeat should not be reclaimed: n=%d err=%v", n, err)
	}
	n, err = store.ReclaimStale(ctx, time.Now().Add(time.Second))
	if err != nil || n != 1 {
		t.Fatalf("expected one reclaimed job: n=%d err=%v", n, err)
	}
	state, _ := store.Query(ctx, job.ID)
	if state.Token != queue.StatusPending {
		t.Fatalf("expected pending after reclaim, got %+v", state)
	}
	if again, err := store.Next(ctx); err != nil || again == nil || again.ID != job.ID {
		t.Fatalf("expected reclaimed job to be redelivered: %+v %v", again, err)
	}
}

func TestFailOrphanedOnlyTouchesOwnJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := newJob(t, "orphan.png")
	if _, err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	waiting := newJob(t, "waiting.png")
	if _, err := store.Enqueue(ctx, waiting); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	n, err := store.FailOrphaned(ctx, queue.StopReason)
	if err != nil || n != 1 {
		t.Fatalf("FailOrphaned: n=%d err=%v", n, err)
	}
	state, _ := store.Query(ctx, job.ID)
	if state.Token != queue.StatusFailure || state.Error != queue.StopReason {
		t.Fatalf("unexpected orphan state %+v", state)
	}
	state, _ = store.Query(ctx, waiting.ID)
	if state.Token != queue.StatusPending {
		t.Fatalf("pending job should be untouched, got %+v", state)
	}
}

func TestPruneFinishedAndStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	done := newJob(t, "done.png")
	done.SubmittedAt = time.Now().Add(-time.Minute)
	open := newJob(t, "open.png")
	for _, job := range []queue.Job{done, open} {
		if _, err := store.Enqueue(ctx, job); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if _, err := store.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := store.Complete(ctx, done.ID, queue.FailedResult("Unsupported file type: .xyz")); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[queue.StatusSuccess] != 1 || stats[queue.StatusPending] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}

	if n, err := store.PruneFinished(ctx, time.Now().Add(-time.Hour)); err != nil || n != 0 {
		t.Fatalf("recent jobs should survive: n=%d err=%v", n, err)
	}
	if n, err := store.PruneFinished(ctx, time.Now().Add(time.Second)); err != nil || n != 1 {
		t.Fatalf("expected one pruned job: n=%d err=%v", n, err)
	}
	stats, _ = store.Stats(ctx)
	if stats[queue.StatusSuccess] != 0 || stats[queue.StatusPending] != 1 {
		t.Fatalf("unexpected stats after prune %v", stats)
	}
}

func TestReopenKeepsJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := queue.OpenStore(cfg)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	job := newJob(t, "persist.png")
	if _, err := store.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	claimed, err := reopened.Next(context.Background())
	if err != nil || claimed == nil || claimed.ID != job.ID {
		t.Fatalf("expected persisted job, got %+v %v", claimed, err)
	}
}

func TestEnqueueRejectsIncompleteJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if _, err := store.Enqueue(context.Background(), queue.Job{ID: "x"}); err == nil {
		t.Fatal("expected validation error")
	}
}
