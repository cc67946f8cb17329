package daemonrun

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"convertd/internal/daemon"
	"convertd/internal/logging"
	"convertd/internal/testsupport"
)

func TestRunLogPathIsPerRun(t *testing.T) {
	started := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	got := runLogPath("/var/log/convertd", daemon.RoleWorker, started)
	if got != "/var/log/convertd/convertd-worker-20260304T050607.000Z.log" {
		t.Fatalf("unexpected run log path %q", got)
	}
}

func TestRotateLogsPointsAtCurrentRunAndPrunes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Logging.RetentionDays = 7
	logDir := cfg.Paths.LogDir
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	stale := runLogPath(logDir, daemon.RoleAPI, time.Now().Add(-30*24*time.Hour))
	otherRole := runLogPath(logDir, daemon.RoleWorker, time.Now().Add(-30*24*time.Hour))
	current := runLogPath(logDir, daemon.RoleAPI, time.Now())
	aged := time.Now().Add(-30 * 24 * time.Hour)
	for _, path := range []string{stale, otherRole, current} {
		if err := os.WriteFile(path, []byte("line\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	for _, path := range []string{stale, otherRole} {
		if err := os.Chtimes(path, aged, aged); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	rotateLogs(logging.NewNop(), cfg, daemon.RoleAPI, current)

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale api log should be pruned, stat err %v", err)
	}
	if _, err := os.Stat(otherRole); err != nil {
		t.Fatalf("worker log belongs to another role and must survive: %v", err)
	}
	pointer := filepath.Join(logDir, "convertd-api.log")
	data, err := os.ReadFile(pointer)
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	if !strings.HasPrefix(string(data), "line") {
		t.Fatalf("pointer should resolve to the current log, got %q", data)
	}
	if target, err := os.Readlink(pointer); err == nil && target != current {
		t.Fatalf("pointer targets %q, want %q", target, current)
	}
}
