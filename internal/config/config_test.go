package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"convertd/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantArtifacts := filepath.Join(tempHome, ".local", "share", "convertd", "artifacts")
	if cfg.Paths.ArtifactDir != wantArtifacts {
		t.Fatalf("unexpected artifact dir: got %q want %q", cfg.Paths.ArtifactDir, wantArtifacts)
	}
	if cfg.Broker.Backend != config.BrokerSQLite {
		t.Fatalf("expected sqlite broker by default, got %q", cfg.Broker.Backend)
	}
	if cfg.Storage.Backend != config.StorageFilesystem {
		t.Fatalf("expected filesystem storage by default, got %q", cfg.Storage.Backend)
	}
	if cfg.ArtifactTTL().Minutes() != 15 {
		t.Fatalf("expected 15 minute artifact ttl, got %s", cfg.ArtifactTTL())
	}
	if cfg.Workflow.ReclaimStale {
		t.Fatal("expected stale reclaim disabled by default")
	}
	if cfg.Broker.Consumer == "" {
		t.Fatal("expected consumer name derived from host")
	}
	if got := cfg.MaxUploadBytes(); got != 200<<20 {
		t.Fatalf("expected video ceiling as max upload, got %d", got)
	}
}

func TestLoadCustomConfigOverrides(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	payload := map[string]any{
		"paths": map[string]any{
			"artifact_dir": "~/out",
			"state_dir":    "~/state",
		},
		"limits": map[string]any{
			"image_mb":    5,
			"audio_mb":    50,
			"video_mb":    100,
			"document_mb": 2,
		},
		"reaper": map[string]any{
			"ttl":      60,
			"schedule": "*/5 * * * *",
		},
		"api": map[string]any{
			"cors_origins": []string{" http://localhost:3000/ ", ""},
		},
		"logging": map[string]any{
			"format":         "JSON",
			"retention_days": -4,
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "convertd.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %q, got %q (exists=%v)", path, resolved, exists)
	}
	if cfg.Paths.ArtifactDir != filepath.Join(tempHome, "out") {
		t.Fatalf("unexpected artifact dir %q", cfg.Paths.ArtifactDir)
	}
	if cfg.Limits.ImageMB != 5 || cfg.Limits.DocumentMB != 2 {
		t.Fatalf("unexpected limits %+v", cfg.Limits)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized log format, got %q", cfg.Logging.Format)
	}
	if cfg.Reaper.TTL != 60 {
		t.Fatalf("unexpected reaper ttl %d", cfg.Reaper.TTL)
	}
	if len(cfg.API.CORSOrigins) != 1 || cfg.API.CORSOrigins[0] != "http://localhost:3000" {
		t.Fatalf("expected normalized cors origins, got %q", cfg.API.CORSOrigins)
	}
	if cfg.Logging.RetentionDays != 0 {
		t.Fatalf("negative retention should disable pruning, got %d", cfg.Logging.RetentionDays)
	}
}

func TestRedisURLFromEnvironment(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CONVERTD_REDIS_URL", "redis://broker:6379/2")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Broker.RedisURL != "redis://broker:6379/2" {
		t.Fatalf("expected redis url from env, got %q", cfg.Broker.RedisURL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"broker backend", func(c *config.Config) { c.Broker.Backend = "rabbit" }, "broker.backend"},
		{"redis scheme", func(c *config.Config) {
			c.Broker.Backend = config.BrokerRedis
			c.Broker.RedisURL = "http://nope"
		}, "broker.redis_url"},
		{"s3 bucket", func(c *config.Config) { c.Storage.Backend = config.StorageS3 }, "storage.s3_bucket"},
		{"limit", func(c *config.Config) { c.Limits.VideoMB = 0 }, "limits.video_mb"},
		{"pattern", func(c *config.Config) { c.Intake.DeniedFilenamePatterns = []string{"("} }, "denied_filename_patterns"},
		{"schedule", func(c *config.Config) { c.Reaper.Schedule = "whenever" }, "reaper.schedule"},
		{"heartbeat", func(c *config.Config) { c.Workflow.HeartbeatTimeout = c.Workflow.HeartbeatInterval }, "heartbeat_timeout"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"pdf dpi", func(c *config.Config) { c.Converters.PDFDPI = 1200 }, "converters.pdf_dpi"},
		{"cors origin", func(c *config.Config) { c.API.CORSOrigins = []string{"localhost:3000"} }, "api.cors_origins"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, _, exists, err := config.Load(path); err != nil || !exists {
		t.Fatalf("expected sample config to load, exists=%v err=%v", exists, err)
	}
}

func TestEnsureDirectoriesCreatesArtifactDir(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.ArtifactDir, cfg.Paths.StateDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q", dir)
		}
	}
}
