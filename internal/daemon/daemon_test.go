package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"convertd/internal/daemon"
	"convertd/internal/logging"
	"convertd/internal/testsupport"
)

func TestParseRole(t *testing.T) {
	tests := map[string]daemon.Role{
		"":       daemon.RoleAll,
		"all":    daemon.RoleAll,
		" API ":  daemon.RoleAPI,
		"worker": daemon.RoleWorker,
	}
	for in, want := range tests {
		got, err := daemon.ParseRole(in)
		if err != nil || got != want {
			t.Fatalf("ParseRole(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := daemon.ParseRole("scheduler"); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}
}

func waitRunning(t *testing.T, d *daemon.Daemon) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if d.Running() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("daemon never reported running")
}

func TestDaemonRunStopAndSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := daemon.New(ctx, cfg, daemon.RoleAll, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { first.Close() })

	done := make(chan error, 1)
	go func() { done <- first.Run(ctx) }()
	waitRunning(t, first)

	status := first.Status()
	if !status.Running || status.Role != daemon.RoleAll || !strings.HasSuffix(status.LockPath, "convertd.lock") {
		t.Fatalf("unexpected status %+v", status)
	}

	second, err := daemon.New(context.Background(), cfg, daemon.RoleAll, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New (second): %v", err)
	}
	t.Cleanup(func() { second.Close() })
	if err := second.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected second instance to be refused, got %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	if first.Running() {
		t.Fatal("expected daemon to report stopped")
	}
}

func TestSplitRolesUseSeparateLocks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	apiDaemon, err := daemon.New(context.Background(), cfg, daemon.RoleAPI, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New(api): %v", err)
	}
	t.Cleanup(func() { apiDaemon.Close() })
	workerDaemon, err := daemon.New(context.Background(), cfg, daemon.RoleWorker, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New(worker): %v", err)
	}
	t.Cleanup(func() { workerDaemon.Close() })

	apiLock := apiDaemon.Status().LockPath
	workerLock := workerDaemon.Status().LockPath
	if apiLock == workerLock {
		t.Fatalf("expected distinct locks, both are %s", apiLock)
	}
	if !strings.HasSuffix(apiLock, "convertd-api.lock") || !strings.HasSuffix(workerLock, "convertd-worker.lock") {
		t.Fatalf("unexpected lock paths %s, %s", apiLock, workerLock)
	}
}

func TestRunFailsWhenAPICannotListen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "256.0.0.1:99999"
	d, err := daemon.New(context.Background(), cfg, daemon.RoleAPI, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()
	select {
	case err := <-errCh:
		if err == nil || !strings.Contains(err.Error(), "api listen") {
			t.Fatalf("expected listen error, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after listen failure")
	}
}

func TestRunLogsStatusAtStartup(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "256.0.0.1:99999"
	logPath := filepath.Join(t.TempDir(), "daemon.log")
	logger, err := logging.New(logging.Options{Level: "info", Format: "json", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	d, err := daemon.New(context.Background(), cfg, daemon.RoleAPI, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	_ = d.Run(context.Background())

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	st := d.Status()
	for _, want := range []string{`"role":"api"`, `"storage":"` + st.Storage + `"`, `"lock":"` + st.LockPath + `"`} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("startup log missing %s:\n%s", want, data)
		}
	}
}
