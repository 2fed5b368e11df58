package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"overdub/internal/logging"
)

func TestCleanStaleInvalidPaths(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := CleanStale(context.Background(), dir, time.Hour, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Errorf("expected empty result for path %q", dir)
		}
	}
}

func mkdirAged(t *testing.T, parent, name string, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(parent, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "data"), make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	when := time.Now().Add(-age)
	if err := os.Chtimes(dir, when, when); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return dir
}

func TestCleanStaleRemovesOnlyOldOwnedDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	oldRun := mkdirAged(t, tmpDir, "overdub-run-123", 2*time.Hour)
	oldWhisper := mkdirAged(t, tmpDir, "whisperx-9", 3*time.Hour)
	recent := mkdirAged(t, tmpDir, "overdub-src-456", time.Minute)
	foreign := mkdirAged(t, tmpDir, "someone-elses", 5*time.Hour)

	result := CleanStale(context.Background(), tmpDir, time.Hour, logging.NewNop())
	if len(result.Removed) != 2 || len(result.Errors) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	for _, gone := range []string{oldRun, oldWhisper} {
		if _, err := os.Stat(gone); !os.IsNotExist(err) {
			t.Errorf("%s should have been removed", gone)
		}
	}
	for _, kept := range []string{recent, foreign} {
		if _, err := os.Stat(kept); err != nil {
			t.Errorf("%s should still exist", kept)
		}
	}
}

func TestCleanStaleStopsOnCancel(t *testing.T) {
	tmpDir := t.TempDir()
	old := mkdirAged(t, tmpDir, "overdub-run-1", 2*time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := CleanStale(ctx, tmpDir, time.Hour, nil)
	if len(result.Removed) != 0 {
		t.Fatalf("cancelled cleanup removed %v", result.Removed)
	}
	if _, err := os.Stat(old); err != nil {
		t.Fatal("directory should survive a cancelled cleanup")
	}
}

func TestUsage(t *testing.T) {
	tmpDir := t.TempDir()
	mkdirAged(t, tmpDir, "overdub-run-1", 0)
	mkdirAged(t, tmpDir, "overdub-src-2", 0)
	mkdirAged(t, tmpDir, "other", 0)

	count, bytes, err := Usage(tmpDir)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if count != 2 || bytes != 200 {
		t.Fatalf("Usage = %d dirs, %d bytes", count, bytes)
	}
}
