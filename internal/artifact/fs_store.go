package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"convertd/internal/fileutil"
	"convertd/internal/services"
)

// FSStore keeps artifacts under {root}/{job_id}/{stored_name}.
type FSStore struct {
	root string
}

// NewFSStore returns a filesystem store rooted at dir, creating it if needed.
func NewFSStore(dir string) (*FSStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "artifact", "open", "artifact_dir is required", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorage, "artifact", "open", "create artifact directory", err)
	}
	return &FSStore{root: dir}, nil
}

// Root returns the directory backing the store.
func (s *FSStore) Root() string { return s.root }

func (s *FSStore) Put(ctx context.Context, jobID, name string, data []byte) (Record, error) {
	if err := ValidateJobID(jobID); err != nil {
		return Record{}, err
	}
	if err := validateName(name); err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	dir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Record{}, services.Wrap(services.ErrStorage, "artifact", "put", "create job directory", err)
	}
	stored := StoredName(jobID, name)
	path := filepath.Join(dir, stored)
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return Record{}, services.Wrap(services.ErrStorage, "artifact", "put", stored, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Record{}, services.Wrap(services.ErrStorage, "artifact", "put", "stat written artifact", err)
	}
	return recordFromInfo(jobID, info), nil
}

func (s *FSStore) Find(ctx context.Context, jobID string) (Record, bool, error) {
	if ValidateJobID(jobID) != nil {
		return Record{}, false, nil
	}
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	records, err := s.readJobDir(jobID)
	if err != nil {
		return Record{}, false, err
	}
	if len(records) == 0 {
		return Record{}, false, nil
	}
	return records[0], true, nil
}

func (s *FSStore) Open(ctx context.Context, storedName string) (io.ReadCloser, Record, error) {
	jobID, ok := SplitStoredName(storedName)
	if !ok {
		return nil, Record{}, ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, Record{}, err
	}
	f, err := os.Open(filepath.Join(s.root, jobID, storedName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Record{}, ErrNotFound
		}
		return nil, Record{}, services.Wrap(services.ErrStorage, "artifact", "open", storedName, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, Record{}, services.Wrap(services.ErrStorage, "artifact", "open", storedName, err)
	}
	return f, recordFromInfo(jobID, info), nil
}

func (s *FSStore) List(ctx context.Context) ([]Record, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrStorage, "artifact", "list", s.root, err)
	}
	var records []Record
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		if !entry.IsDir() || ValidateJobID(entry.Name()) != nil {
			continue
		}
		found, err := s.readJobDir(entry.Name())
		if err != nil {
			return records, err
		}
		records = append(records, found...)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (s *FSStore) Remove(ctx context.Context, storedName string) error {
	jobID, ok := SplitStoredName(storedName)
	if !ok {
		return ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Join(s.root, jobID)
	if err := os.Remove(filepath.Join(dir, storedName)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return services.Wrap(services.ErrStorage, "artifact", "remove", storedName, err)
	}
	// The job directory goes once it is empty; a concurrent Put may have
	// refilled it, in which case the remove fails and the directory stays.
	_ = os.Remove(dir)
	return nil
}

// SweepDebris removes temp files a crashed write left in job directories and
// job directories that are empty. Only entries older than cutoff are touched,
// so a write in progress keeps its temp file and directory.
func (s *FSStore) SweepDebris(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, services.Wrap(services.ErrStorage, "artifact", "sweep", s.root, err)
	}
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.IsDir() || ValidateJobID(entry.Name()) != nil {
			continue
		}
		n, err := s.sweepJobDir(entry.Name(), cutoff)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (s *FSStore) sweepJobDir(jobID string, cutoff time.Time) (int, error) {
	dir := filepath.Join(s.root, jobID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, services.Wrap(services.ErrStorage, "artifact", "sweep", fmt.Sprintf("job %s", jobID), err)
	}
	removed := 0
	remaining := len(entries)
	for _, entry := range entries {
		if entry.IsDir() || !isTempName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, services.Wrap(services.ErrStorage, "artifact", "sweep", entry.Name(), err)
		}
		removed++
		remaining--
	}
	if remaining > 0 {
		return removed, nil
	}
	// Removing files bumps the directory mtime, so a directory emptied just
	// now counts as stale.
	if removed == 0 {
		info, err := os.Stat(dir)
		if err != nil || !info.ModTime().Before(cutoff) {
			return removed, nil
		}
	}
	// A Put that refilled the directory makes this fail, and the directory stays.
	if err := os.Remove(dir); err == nil {
		removed++
	}
	return removed, nil
}

// isTempName matches the names fileutil.WriteFileAtomic writes before renaming.
func isTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, ".tmp-")
}

// readJobDir lists the artifacts for one job, newest first. A directory that
// vanished between listing and reading yields no records.
func (s *FSStore) readJobDir(jobID string) ([]Record, error) {
	dir := filepath.Join(s.root, jobID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrStorage, "artifact", "read", fmt.Sprintf("job %s", jobID), err)
	}
	var records []Record
	prefix := jobID + "_"
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		records = append(records, recordFromInfo(jobID, info))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func recordFromInfo(jobID string, info fs.FileInfo) Record {
	return Record{
		JobID:      jobID,
		StoredName: info.Name(),
		Size:       info.Size(),
		CreatedAt:  info.ModTime(),
	}
}
