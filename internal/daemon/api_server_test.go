package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"overdub/internal/config"
	"overdub/internal/history"
	"overdub/internal/pipeline"
	"overdub/internal/services"
	"overdub/internal/testsupport"
)

type startCall struct {
	input pipeline.Input
	mode  pipeline.Mode
	opts  pipeline.StartOptions
}

type fakeRuns struct {
	mu        sync.Mutex
	snaps     map[string]pipeline.Snapshot
	outputs   map[string]*pipeline.Output
	updates   map[string][]pipeline.Snapshot
	starts    []startCall
	cancelled []string
	startErr  error
	closed    bool
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{
		snaps:   make(map[string]pipeline.Snapshot),
		outputs: make(map[string]*pipeline.Output),
		updates: make(map[string][]pipeline.Snapshot),
	}
}

func (f *fakeRuns) Start(_ context.Context, input pipeline.Input, mode pipeline.Mode, opts pipeline.StartOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.starts = append(f.starts, startCall{input: input, mode: mode, opts: opts})
	id := fmt.Sprintf("run-%d", len(f.starts))
	f.snaps[id] = pipeline.Snapshot{ID: id, Name: input.Name, Mode: mode, State: pipeline.StatePending}
	return id, nil
}

func (f *fakeRuns) Progress(id string) (pipeline.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snaps[id]
	if !ok {
		return pipeline.Snapshot{}, fmt.Errorf("%w: %s", pipeline.ErrRunNotFound, id)
	}
	return snap, nil
}

func (f *fakeRuns) Cancel(id string) error {
	if _, err := f.Progress(id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeRuns) Result(id string) (*pipeline.Output, error) {
	snap, err := f.Progress(id)
	if err != nil {
		return nil, err
	}
	if snap.State != pipeline.StateCompleted {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outputs[id], nil
}

func (f *fakeRuns) Subscribe(id string) (<-chan pipeline.Snapshot, func(), error) {
	if _, err := f.Progress(id); err != nil {
		return nil, nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan pipeline.Snapshot, len(f.updates[id]))
	for _, snap := range f.updates[id] {
		ch <- snap
	}
	close(ch)
	return ch, func() {}, nil
}

func (f *fakeRuns) List() []pipeline.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pipeline.Snapshot, 0, len(f.snaps))
	for _, snap := range f.snaps {
		out = append(out, snap)
	}
	return out
}

func (f *fakeRuns) Forget(id string) error {
	snap, err := f.Progress(id)
	if err != nil {
		return err
	}
	if !snap.State.Terminal() {
		return fmt.Errorf("%w: %s", pipeline.ErrRunActive, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snaps, id)
	return nil
}

func (f *fakeRuns) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRuns) put(snap pipeline.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[snap.ID] = snap
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, runs Runs, store *history.Store) *httptest.Server {
	t.Helper()
	d, err := New(cfg, runs, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(d.api.router)
	t.Cleanup(srv.Close)
	return srv
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestCreateRunRawBody(t *testing.T) {
	runs := newFakeRuns()
	srv := newTestServer(t, testConfig(t), runs, nil)

	resp, err := http.Post(srv.URL+"/api/runs?mode=voice&target=pt&name=clip.mp4&srt=true", "video/mp4", strings.NewReader("video-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[createRunResponse](t, resp)
	if body.ID != "run-1" {
		t.Fatalf("id = %q", body.ID)
	}
	call := runs.starts[0]
	if string(call.input.Data) != "video-bytes" || call.input.Name != "clip.mp4" {
		t.Fatalf("unexpected input %+v", call.input)
	}
	if call.mode != pipeline.ModeDub || call.opts.Target != "pt" || !call.opts.ExportSRT {
		t.Fatalf("unexpected call %+v", call)
	}
}

func TestCreateRunMultipart(t *testing.T) {
	runs := newFakeRuns()
	srv := newTestServer(t, testConfig(t), runs, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "holiday.mkv")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte("mkv-bytes"))
	_ = mw.Close()

	resp, err := http.Post(srv.URL+"/api/runs?mode=subtitle", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	call := runs.starts[0]
	if string(call.input.Data) != "mkv-bytes" || call.input.Name != "holiday.mkv" {
		t.Fatalf("unexpected input %+v", call.input)
	}
}

func TestCreateRunRejections(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		startErr error
		want     int
	}{
		{"unknown mode", "mode=karaoke", nil, http.StatusBadRequest},
		{"missing mode", "", nil, http.StatusBadRequest},
		{"validation", "mode=dub", services.Wrap(services.ErrValidation, "pipeline", "start", "input is empty", nil), http.StatusBadRequest},
		{"closed", "mode=dub", pipeline.ErrClosed, http.StatusServiceUnavailable},
		{"internal", "mode=dub", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runs := newFakeRuns()
			runs.startErr = tc.startErr
			srv := newTestServer(t, testConfig(t), runs, nil)
			resp, err := http.Post(srv.URL+"/api/runs?"+tc.query, "video/mp4", strings.NewReader("x"))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestRunLifecycleEndpoints(t *testing.T) {
	runs := newFakeRuns()
	runs.put(pipeline.Snapshot{ID: "a", Mode: pipeline.ModeSubtitle, State: pipeline.StateRunning, Progress: 40})
	runs.put(pipeline.Snapshot{ID: "b", Mode: pipeline.ModeSubtitle, State: pipeline.StateFailed})
	srv := newTestServer(t, testConfig(t), runs, nil)

	resp, err := http.Get(srv.URL + "/api/runs/a")
	if err != nil {
		t.Fatal(err)
	}
	if snap := decode[pipeline.Snapshot](t, resp); snap.Progress != 40 {
		t.Fatalf("progress = %v", snap.Progress)
	}

	resp, _ = http.Get(srv.URL + "/api/runs")
	if list := decode[runListResponse](t, resp); len(list.Runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(list.Runs))
	}

	resp, _ = http.Post(srv.URL+"/api/runs/a/cancel", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || len(runs.cancelled) != 1 {
		t.Fatalf("cancel status=%d cancelled=%v", resp.StatusCode, runs.cancelled)
	}

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/runs/missing", http.StatusNotFound},
		{http.MethodPost, "/api/runs/missing/cancel", http.StatusNotFound},
		{http.MethodDelete, "/api/runs/a", http.StatusConflict},
		{http.MethodDelete, "/api/runs/b", http.StatusNoContent},
		{http.MethodGet, "/api/runs/b", http.StatusNotFound},
	}
	for _, tc := range tests {
		req, _ := http.NewRequest(tc.method, srv.URL+tc.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s %s = %d, want %d", tc.method, tc.path, resp.StatusCode, tc.want)
		}
	}
}

func TestResultDownload(t *testing.T) {
	runs := newFakeRuns()
	outPath := filepath.Join(t.TempDir(), "run-x.mp4")
	if err := os.WriteFile(outPath, []byte("rendered"), 0o644); err != nil {
		t.Fatal(err)
	}
	finished := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	runs.put(pipeline.Snapshot{ID: "busy", Mode: pipeline.ModeDub, State: pipeline.StateRunning})
	runs.put(pipeline.Snapshot{ID: "done", Name: "clip.mov", Mode: pipeline.ModeTranslate, State: pipeline.StateCompleted, FinishedAt: finished})
	runs.outputs["done"] = &pipeline.Output{Path: outPath, Container: "mp4"}
	srv := newTestServer(t, testConfig(t), runs, nil)

	resp, err := http.Get(srv.URL + "/api/runs/busy/result")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("incomplete run status = %d, want 409", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/runs/done/result")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "rendered" {
		t.Fatalf("body = %q", body)
	}
	want := "clip_translate_20260102-030405.mp4"
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, want) {
		t.Fatalf("Content-Disposition = %q, want %q", cd, want)
	}
}

func TestDownloadName(t *testing.T) {
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	tests := []struct {
		name string
		snap pipeline.Snapshot
		out  pipeline.Output
		want string
	}{
		{"named", pipeline.Snapshot{Name: "talk.mp4", Mode: pipeline.ModeDub}, pipeline.Output{Path: "/o/x.mkv"}, "talk_dub_20260506-070809.mkv"},
		{"unnamed", pipeline.Snapshot{Mode: pipeline.ModeSubtitle}, pipeline.Output{Path: "/o/x", Container: "mp4"}, "video_subtitle_20260506-070809.mp4"},
		{"path name", pipeline.Snapshot{Name: "/src/a.b.webm", Mode: pipeline.ModeTranslate}, pipeline.Output{Path: "/o/x.mp4"}, "a.b_translate_20260506-070809.mp4"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := downloadName(tc.snap, &tc.out, now); got != tc.want {
				t.Fatalf("downloadName = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEventsStreamsSnapshots(t *testing.T) {
	runs := newFakeRuns()
	runs.put(pipeline.Snapshot{ID: "a", State: pipeline.StateRunning})
	runs.updates["a"] = []pipeline.Snapshot{
		{ID: "a", State: pipeline.StateRunning, Progress: 10},
		{ID: "a", State: pipeline.StateCompleted, Progress: 100},
	}
	srv := newTestServer(t, testConfig(t), runs, nil)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/runs/a/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var got []int
	for {
		var snap pipeline.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("unexpected read error: %v", err)
			}
			break
		}
		got = append(got, snap.Progress)
	}
	if len(got) != 2 || got[0] != 10 || got[1] != 100 {
		t.Fatalf("progress stream = %v", got)
	}
}

func TestEventsUnknownRun(t *testing.T) {
	srv := newTestServer(t, testConfig(t), newFakeRuns(), nil)
	resp, err := http.Get(srv.URL + "/api/runs/nope/events")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAuthMiddleware(t *testing.T) {
	cfg := testConfig(t)
	cfg.Paths.APIToken = "secret"
	srv := newTestServer(t, cfg, newFakeRuns(), nil)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", "", http.StatusUnauthorized},
		{"header", "Bearer secret", "", http.StatusOK},
		{"query", "", "?access_token=secret", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/runs"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestHistoryEndpoint(t *testing.T) {
	cfg := testConfig(t)
	srv := newTestServer(t, cfg, newFakeRuns(), nil)
	resp, err := http.Get(srv.URL + "/api/history")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("disabled history status = %d", resp.StatusCode)
	}

	ctx := context.Background()
	store, err := history.Open(ctx, cfg.HistoryPath())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, state := range []pipeline.State{pipeline.StateCompleted, pipeline.StateFailed, pipeline.StateCompleted} {
		entry := history.Entry{
			ID:        fmt.Sprintf("h%d", i),
			Mode:      pipeline.ModeSubtitle,
			State:     state,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Put(ctx, entry); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	srv = newTestServer(t, cfg, newFakeRuns(), store)

	resp, err = http.Get(srv.URL + "/api/history?limit=1&state=completed")
	if err != nil {
		t.Fatal(err)
	}
	body := decode[historyResponse](t, resp)
	if len(body.Entries) != 1 || body.Entries[0].ID != "h2" {
		t.Fatalf("entries = %+v", body.Entries)
	}
	if body.Stats[pipeline.StateCompleted] != 2 || body.Stats[pipeline.StateFailed] != 1 {
		t.Fatalf("stats = %+v", body.Stats)
	}

	resp, _ = http.Get(srv.URL + "/api/history?limit=x")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	runs := newFakeRuns()
	runs.put(pipeline.Snapshot{ID: "a", State: pipeline.StateRunning})
	runs.put(pipeline.Snapshot{ID: "b", State: pipeline.StateCompleted})
	srv := newTestServer(t, testConfig(t), runs, nil)

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	body := decode[statusResponse](t, resp)
	if body.Daemon.Active != 1 || body.Daemon.Runs[pipeline.StateCompleted] != 1 {
		t.Fatalf("daemon status = %+v", body.Daemon)
	}
	if len(body.Preflight.Dependencies) == 0 {
		t.Fatal("expected dependency report")
	}
}
