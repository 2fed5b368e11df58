package history_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"overdub/internal/history"
	"overdub/internal/media"
	"overdub/internal/pipeline"
	"overdub/internal/services"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "state", "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := pipeline.Snapshot{
		ID:         "run-1",
		Name:       "clip.mp4",
		Mode:       pipeline.ModeTranslate,
		Target:     "pt",
		State:      pipeline.StateCompleted,
		Progress:   100,
		Source:     &media.Handle{Duration: 12, FPS: 30},
		Language:   "en",
		Segments:   4,
		Output:     &pipeline.Output{Path: "/out/run-1.mp4", SRTPath: "/out/run-1.srt", Container: "mp4", SizeBytes: 2048, Frames: 360},
		Warnings:   []string{"narration mismatch"},
		CreatedAt:  created,
		StartedAt:  created.Add(time.Second),
		FinishedAt: created.Add(31 * time.Second),
	}
	if err := store.Record(ctx, snap); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Mode != pipeline.ModeTranslate || got.Frames != 360 || got.SourceDuration != 12 || got.SRTPath != "/out/run-1.srt" {
		t.Fatalf("unexpected entry %+v", got)
	}
	if len(got.Warnings) != 1 || got.Elapsed() != 30*time.Second || !got.CreatedAt.Equal(created) {
		t.Fatalf("unexpected entry details %+v", got)
	}
}

func TestListOrderingAndFilters(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	entries := []history.Entry{
		{ID: "a", Mode: pipeline.ModeSubtitle, State: pipeline.StateCompleted, CreatedAt: base},
		{ID: "b", Mode: pipeline.ModeDub, State: pipeline.StateFailed, ErrorKind: services.KindInput, CreatedAt: base.Add(time.Minute)},
		{ID: "c", Mode: pipeline.ModeDub, State: pipeline.StateCancelled, CreatedAt: base.Add(500 * time.Millisecond)},
	}
	for _, e := range entries {
		if err := store.Put(ctx, e); err != nil {
			t.Fatalf("Put %s: %v", e.ID, err)
		}
	}

	all, err := store.List(ctx, history.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].ID != "b" || all[1].ID != "c" || all[2].ID != "a" {
		t.Fatalf("unexpected order %+v", all)
	}

	tests := []struct {
		name string
		opts history.ListOptions
		want int
	}{
		{"limit", history.ListOptions{Limit: 2}, 2},
		{"failed only", history.ListOptions{States: []pipeline.State{pipeline.StateFailed}}, 1},
		{"terminal failures", history.ListOptions{States: []pipeline.State{pipeline.StateFailed, pipeline.StateCancelled}}, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.List(ctx, tc.opts)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != tc.want {
				t.Fatalf("got %d entries, want %d", len(got), tc.want)
			}
		})
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[pipeline.StateCompleted] != 1 || stats[pipeline.StateFailed] != 1 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestRecordReplacesAndClear(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := store.Put(ctx, history.Entry{ID: "x", Mode: pipeline.ModeDub, State: pipeline.StateFailed, CreatedAt: base}); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, history.Entry{ID: "x", Mode: pipeline.ModeDub, State: pipeline.StateCompleted, CreatedAt: base}); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, history.Entry{ID: "y", Mode: pipeline.ModeDub, State: pipeline.StateCompleted, CreatedAt: base.Add(48 * time.Hour)}); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Get(ctx, "x")
	if got.State != pipeline.StateCompleted {
		t.Fatalf("state = %s", got.State)
	}

	removed, err := store.Clear(ctx, base.Add(24*time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("Clear cutoff = %d, %v", removed, err)
	}
	if _, err := store.Get(ctx, "x"); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	removed, err = store.Clear(ctx, time.Time{})
	if err != nil || removed != 1 {
		t.Fatalf("Clear all = %d, %v", removed, err)
	}
}

func TestPutRequiresID(t *testing.T) {
	store := openStore(t)
	if err := store.Put(context.Background(), history.Entry{}); err == nil {
		t.Fatal("expected error for empty id")
	}
}
