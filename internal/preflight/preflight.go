package preflight

import (
	"context"

	"convertd/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Targets are the live backends to check. Nil fields are skipped.
type Targets struct {
	Broker    Pinger
	Artifacts Pinger
	// ArtifactRoot is the directory an opened filesystem store writes to.
	// Empty falls back to paths.artifact_dir.
	ArtifactRoot string
}

// RunAll executes every applicable check for cfg.
func RunAll(ctx context.Context, cfg *config.Config, targets Targets) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}
	if cfg.Storage.Backend == config.StorageFilesystem {
		root := targets.ArtifactRoot
		if root == "" {
			root = cfg.Paths.ArtifactDir
		}
		results = append(results, CheckDirectoryAccess("Artifact directory", root))
	}

	if targets.Broker != nil {
		target := cfg.QueueDBPath()
		if cfg.Broker.Backend == config.BrokerRedis {
			target = "redis stream " + cfg.Broker.Stream
		}
		results = append(results, CheckPing(ctx, "Broker ("+cfg.Broker.Backend+")", target, targets.Broker))
	}
	if targets.Artifacts != nil {
		results = append(results, CheckPing(ctx, "Artifact bucket", "s3://"+cfg.Storage.S3Bucket, targets.Artifacts))
	}

	return append(results, FromDeps(CheckSystemDeps(cfg))...)
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
