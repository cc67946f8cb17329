package main

import (
	"bytes"
	"strings"
	"testing"

	"convertd/internal/api"
)

func TestRenderStatusLineColorize(t *testing.T) {
	plain := renderStatusLine("job-1", statusOK, "completed", false)
	if strings.Contains(plain, "\x1b[") {
		t.Fatalf("unexpected ANSI codes in %q", plain)
	}
	if !strings.Contains(plain, "job-1:") || !strings.Contains(plain, "[OK] completed") {
		t.Fatalf("unexpected line %q", plain)
	}
	colored := renderStatusLine("job-1", statusError, "boom", true)
	if !strings.HasPrefix(colored, ansiRed) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("expected red line, got %q", colored)
	}
}

func TestShouldColorizeIgnoresBuffers(t *testing.T) {
	if shouldColorize(&bytes.Buffer{}) {
		t.Fatal("buffers are never terminals")
	}
}

func TestRenderJobStatusShowsProgress(t *testing.T) {
	line := renderJobStatus("abc", api.StatusResponse{
		Status: "processing",
		Meta:   &api.StatusMeta{Progress: 50, Message: "convert"},
	}, false)
	if !strings.Contains(line, "[WARN] processing 50% convert") {
		t.Fatalf("unexpected line %q", line)
	}
	line = renderJobStatus("abc", api.StatusResponse{Status: "failed", Error: "Unsupported file type: .xyz"}, false)
	if !strings.Contains(line, "[ERROR] failed Unsupported file type: .xyz") {
		t.Fatalf("unexpected line %q", line)
	}
}

func TestTableSpecPadsShortRows(t *testing.T) {
	out := tableSpec{
		headers: []string{"A", "B"},
		rows:    [][]string{{"only"}},
		aligns:  []columnAlignment{alignLeft, alignRight},
		footer:  []string{"1 file(s)"},
	}.render()
	if !strings.Contains(out, "only") || !strings.Contains(out, "╭") {
		t.Fatalf("unexpected table %q", out)
	}
	if !strings.Contains(strings.ToUpper(out), "1 FILE(S)") {
		t.Fatalf("expected footer in %q", out)
	}
	if (tableSpec{}).render() != "" {
		t.Fatal("expected empty table for no headers")
	}
}
