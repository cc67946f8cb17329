package services_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"convertd/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrStorage, "save", "put", "write failed", base)
	if !errors.Is(err, services.ErrStorage) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"save", "put", "write failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{services.Wrap(services.ErrValidation, "intake", "", "bad name", nil), http.StatusBadRequest},
		{services.Wrap(services.ErrTooLarge, "intake", "", "20 MiB", nil), http.StatusRequestEntityTooLarge},
		{services.Wrap(services.ErrTransient, "enqueue", "", "", errors.New("dial")), http.StatusServiceUnavailable},
		{services.ErrNotFound, http.StatusNotFound},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := services.HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
	if !errors.Is(services.ErrTooLarge, services.ErrValidation) {
		t.Fatal("too large should still be a validation error")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected no job id")
	}
	ctx = services.WithJobID(ctx, "")
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("empty job id should not be stored")
	}
	ctx = services.WithJobID(ctx, "job-1")
	ctx = services.WithStage(ctx, "save")
	ctx = services.WithRequestID(ctx, "req")
	if id, _ := services.JobIDFromContext(ctx); id != "job-1" {
		t.Fatalf("unexpected job id %q", id)
	}
	if stage, _ := services.StageFromContext(ctx); stage != "save" {
		t.Fatalf("unexpected stage %q", stage)
	}
	if rid, _ := services.RequestIDFromContext(ctx); rid != "req" {
		t.Fatalf("unexpected request id %q", rid)
	}
}
