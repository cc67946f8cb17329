package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"convertd/internal/api"
	"convertd/internal/artifact"
	"convertd/internal/config"
	"convertd/internal/converter"
	"convertd/internal/intake"
	"convertd/internal/logging"
	"convertd/internal/queue"
	"convertd/internal/settings"
	"convertd/internal/status"
	"convertd/internal/testsupport"
	"convertd/internal/worker"
)

type cliTestEnv struct {
	cfg        *config.Config
	queue      *queue.Store
	configPath string
	serverURL  string
}

// setupCLITestEnv writes a config file and serves the full API with a
// running worker pool behind it.
func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "convertd.toml")
	writeTestConfig(t, configPath, cfg)

	q := testsupport.MustOpenStore(t, cfg)
	store, err := artifact.NewFSStore(cfg.Paths.ArtifactDir)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	gate, err := intake.NewGate(cfg)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	logger := logging.NewNop()
	srv, err := api.NewServer(cfg, api.Deps{
		Gate:       gate,
		Resolver:   settings.NewResolver(),
		Dispatcher: worker.NewDispatcher(q, logger),
		Status:     status.NewReconciler(store, q, logger),
		Artifacts:  store,
	}, logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	mgr := worker.NewManager(cfg, q, converter.NewDefaultRegistry(cfg), store, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &cliTestEnv{cfg: cfg, queue: q, configPath: configPath, serverURL: ts.URL}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, server, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if server != "" {
		flags = append(flags, "--server", server)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
