package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"convertd/internal/artifact"
	"convertd/internal/config"
)

// WriteArtifact stores data for jobID in the filesystem artifact store and
// backdates it by age.
func WriteArtifact(t testing.TB, cfg *config.Config, jobID, name string, data []byte, age time.Duration) artifact.Record {
	t.Helper()
	store, err := artifact.NewFSStore(cfg.Paths.ArtifactDir)
	if err != nil {
		t.Fatalf("open artifact store: %v", err)
	}
	rec, err := store.Put(context.Background(), jobID, name, data)
	if err != nil {
		t.Fatalf("put artifact: %v", err)
	}
	if age > 0 {
		when := time.Now().Add(-age)
		path := filepath.Join(cfg.Paths.ArtifactDir, jobID, rec.StoredName)
		if err := os.Chtimes(path, when, when); err != nil {
			t.Fatalf("age artifact: %v", err)
		}
		rec.CreatedAt = when
	}
	return rec
}
