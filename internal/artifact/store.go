package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"convertd/internal/config"
	"convertd/internal/services"
)

// ErrNotFound is returned when an artifact does not exist (or has already
// been reaped).
var ErrNotFound = fmt.Errorf("artifact %w", services.ErrNotFound)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// Record describes a stored artifact.
type Record struct {
	JobID      string
	StoredName string
	Size       int64
	CreatedAt  time.Time
}

// OriginalName is the stored name without its job id prefix.
func (r Record) OriginalName() string {
	return strings.TrimPrefix(r.StoredName, r.JobID+"_")
}

// Store is implemented by every artifact backend.
type Store interface {
	Put(ctx context.Context, jobID, name string, data []byte) (Record, error)
	Find(ctx context.Context, jobID string) (Record, bool, error)
	Open(ctx context.Context, storedName string) (io.ReadCloser, Record, error)
	List(ctx context.Context) ([]Record, error)
	Remove(ctx context.Context, storedName string) error
}

// DebrisSweeper is implemented by stores whose interrupted writes can leave
// files that List never reports, such as temp files and empty job
// directories. SweepDebris removes such leftovers last modified before cutoff
// and returns how many entries it removed.
type DebrisSweeper interface {
	SweepDebris(ctx context.Context, cutoff time.Time) (int, error)
}

// Open returns the store selected by cfg.Storage.Backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg == nil {
		return nil, errors.New("artifact: config is required")
	}
	switch cfg.Storage.Backend {
	case config.StorageS3:
		return NewS3Store(ctx, cfg.Storage)
	case config.StorageFilesystem, "":
		return NewFSStore(cfg.Paths.ArtifactDir)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "artifact", "open",
			fmt.Sprintf("unknown storage backend %q", cfg.Storage.Backend), nil)
	}
}

// ValidateJobID rejects ids that could escape the job's directory.
func ValidateJobID(jobID string) error {
	if !jobIDPattern.MatchString(jobID) {
		return fmt.Errorf("%w: invalid job id %q", services.ErrValidation, jobID)
	}
	return nil
}

// StoredName builds the job-prefixed name for name.
func StoredName(jobID, name string) string {
	return jobID + "_" + name
}

// SplitStoredName extracts the job id from a stored name.
func SplitStoredName(storedName string) (jobID string, ok bool) {
	idx := strings.IndexByte(storedName, '_')
	if idx <= 0 || idx == len(storedName)-1 {
		return "", false
	}
	jobID = storedName[:idx]
	if ValidateJobID(jobID) != nil || strings.ContainsAny(storedName, `/\`) {
		return "", false
	}
	return jobID, true
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: invalid artifact name %q", services.ErrValidation, name)
	}
	return nil
}
