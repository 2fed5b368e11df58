package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"overdub/internal/pipeline"
	"overdub/internal/services"
)

type recordingReporter struct {
	updates  []int
	finished pipeline.Snapshot
}

func (r *recordingReporter) Update(snap pipeline.Snapshot) { r.updates = append(r.updates, snap.Progress) }
func (r *recordingReporter) Finish(snap pipeline.Snapshot) { r.finished = snap }

func TestWatchRunReturnsTerminalSnapshot(t *testing.T) {
	updates := make(chan pipeline.Snapshot, 3)
	updates <- pipeline.Snapshot{ID: "r", State: pipeline.StateRunning, Progress: 20}
	updates <- pipeline.Snapshot{ID: "r", State: pipeline.StateRunning, Progress: 70}
	updates <- pipeline.Snapshot{ID: "r", State: pipeline.StateCompleted, Progress: 100}
	close(updates)

	rep := &recordingReporter{}
	final := watchRun(context.Background(), updates, func() { t.Fatal("cancel must not be called") }, rep)
	if final.State != pipeline.StateCompleted || rep.finished.State != pipeline.StateCompleted {
		t.Fatalf("final = %+v", final)
	}
	if len(rep.updates) != 3 || rep.updates[2] != 100 {
		t.Fatalf("updates = %v", rep.updates)
	}
}

func TestWatchRunCancelsOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	updates := make(chan pipeline.Snapshot)
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		updates <- pipeline.Snapshot{ID: "r", State: pipeline.StateCancelled, Progress: 12}
		close(updates)
	}()
	final := watchRun(ctx, updates, func() { calls++ }, &recordingReporter{})
	if calls != 1 {
		t.Fatalf("cancel called %d times", calls)
	}
	if final.State != pipeline.StateCancelled {
		t.Fatalf("final = %+v", final)
	}
}

func TestSummarizeRun(t *testing.T) {
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		snap    pipeline.Snapshot
		wantOut string
		wantErr string
		cancel  bool
	}{
		{
			name: "completed",
			snap: pipeline.Snapshot{
				State:      pipeline.StateCompleted,
				Output:     &pipeline.Output{Path: "/out/a.mp4", SRTPath: "/out/a.mp4.srt", SizeBytes: 3_000_000, Frames: 360},
				Warnings:   []string{"no speech detected"},
				StartedAt:  started,
				FinishedAt: started.Add(42 * time.Second),
			},
			wantOut: "Wrote /out/a.mp4 (3.0 MB, 360 frames, 42s)",
		},
		{
			name:    "failed",
			snap:    pipeline.Snapshot{State: pipeline.StateFailed, ErrorKind: services.KindInput, ErrorMessage: "source has no audio track"},
			wantErr: "input error: source has no audio track",
		},
		{
			name:   "cancelled",
			snap:   pipeline.Snapshot{State: pipeline.StateCancelled},
			cancel: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			err := summarizeRun(&out, tc.snap)
			switch {
			case tc.cancel:
				if !errors.Is(err, context.Canceled) {
					t.Fatalf("expected context.Canceled, got %v", err)
				}
			case tc.wantErr != "":
				if err == nil || err.Error() != tc.wantErr {
					t.Fatalf("err = %v, want %q", err, tc.wantErr)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				if !strings.Contains(out.String(), tc.wantOut) || !strings.Contains(out.String(), "Subtitles:") ||
					!strings.Contains(out.String(), "Warning: no speech detected") {
					t.Fatalf("output = %q", out.String())
				}
			}
		})
	}
}

func TestBarReporterRendersToWriter(t *testing.T) {
	var buf bytes.Buffer
	rep := newBarReporter(&buf, "clip.mp4")
	rep.Update(pipeline.Snapshot{Stage: pipeline.StageTranscribing, Progress: 15})
	rep.Update(pipeline.Snapshot{Stage: pipeline.StageRendering, Progress: 60})
	rep.Finish(pipeline.Snapshot{State: pipeline.StateCompleted, Progress: 100})
	if !strings.Contains(buf.String(), "100%") {
		t.Fatalf("bar output missing completion: %q", buf.String())
	}
}

func TestLogReporterSamplesProgress(t *testing.T) {
	var buf bytes.Buffer
	rep := newLogReporter(slog.New(slog.NewJSONHandler(&buf, nil)))
	for p := 0; p <= 30; p++ {
		rep.Update(pipeline.Snapshot{ID: "r", Stage: pipeline.StageTranscribing, Progress: p})
	}
	rep.Update(pipeline.Snapshot{ID: "r", Stage: pipeline.StageRendering, Progress: 31})
	rep.Finish(pipeline.Snapshot{ID: "r", State: pipeline.StateCompleted})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	// 0, 10, 20, 30 in transcribing, the stage change, and the finish line.
	if len(lines) != 6 {
		t.Fatalf("expected 6 log lines, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[5], "run_finished") {
		t.Fatalf("last line = %s", lines[5])
	}
}
