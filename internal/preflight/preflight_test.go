package preflight

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"overdub/internal/config"
	"overdub/internal/deps"
	"overdub/internal/testsupport"
)

func TestCheckDirectoryAccess(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		path   string
		passed bool
	}{
		{"temp dir", t.TempDir(), true},
		{"missing", filepath.Join(t.TempDir(), "nope"), false},
		{"file", file, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := CheckDirectoryAccess("test", tc.path)
			if result.Passed != tc.passed {
				t.Fatalf("passed = %v, want %v (%s)", result.Passed, tc.passed, result.Detail)
			}
			if result.Detail == "" {
				t.Fatal("expected non-empty detail")
			}
		})
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("disk", dir, 1); !result.Passed {
		t.Fatalf("expected pass with 1 byte minimum: %s", result.Detail)
	}
	if result := CheckFreeSpace("disk", dir, ^uint64(0)); result.Passed {
		t.Fatal("expected failure with impossible minimum")
	} else if !strings.Contains(result.Detail, "need") {
		t.Fatalf("detail should name the requirement: %s", result.Detail)
	}
	if result := CheckFreeSpace("disk", filepath.Join(dir, "missing"), 1); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckMemory(t *testing.T) {
	if result := CheckMemory(context.Background(), 1); !result.Passed {
		t.Fatalf("expected pass with 1 byte minimum: %s", result.Detail)
	}
	if result := CheckMemory(context.Background(), ^uint64(0)); result.Passed {
		t.Fatal("expected failure with impossible minimum")
	}
}

func llmServer(t *testing.T, key string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+key {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": `{"ok":true}`}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckLLM(t *testing.T) {
	srv := llmServer(t, "good-key")
	tests := []struct {
		name   string
		key    string
		passed bool
		detail string
	}{
		{"valid key", "good-key", true, "API reachable"},
		{"bad key", "bad-key", false, "authentication failed"},
		{"missing key", "", false, "API key missing"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Translation.BaseURL = srv.URL
			cfg.Translation.APIKey = tc.key
			result := CheckLLM(context.Background(), "LLM", &cfg)
			if result.Passed != tc.passed {
				t.Fatalf("passed = %v, want %v (%s)", result.Passed, tc.passed, result.Detail)
			}
			if !strings.Contains(result.Detail, tc.detail) {
				t.Fatalf("detail = %q, want it to contain %q", result.Detail, tc.detail)
			}
		})
	}
}

func TestRunAllNilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, Options{}); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAllSkipsLLMUnlessRequested(t *testing.T) {
	srv := llmServer(t, "k")
	cfg := config.Default()
	cfg.Paths.StagingDir = t.TempDir()
	cfg.Paths.OutputDir = t.TempDir()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Translation.BaseURL = srv.URL
	cfg.Translation.APIKey = "k"

	without := RunAll(context.Background(), &cfg, Options{})
	with := RunAll(context.Background(), &cfg, Options{CheckLLM: true})
	if len(with) != len(without)+1 {
		t.Fatalf("expected one extra check, got %d vs %d", len(with), len(without))
	}
	for _, r := range without[:3] {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
	if last := with[len(with)-1]; last.Name != "Translation LLM" || !last.Passed {
		t.Fatalf("unexpected LLM result %#v", last)
	}
}

func TestReportReady(t *testing.T) {
	tests := []struct {
		name   string
		report Report
		want   bool
	}{
		{"all good", Report{
			Dependencies: []deps.Status{{Name: "FFmpeg", Available: true}},
			Checks:       []Result{{Name: "dir", Passed: true}},
		}, true},
		{"missing optional", Report{
			Dependencies: []deps.Status{{Name: "espeak-ng", Optional: true}},
		}, true},
		{"missing required", Report{
			Dependencies: []deps.Status{{Name: "FFmpeg"}},
		}, false},
		{"failed check", Report{
			Checks: []Result{{Name: "dir"}},
		}, false},
		{"failed advisory check", Report{
			Checks: []Result{{Name: "memory", Advisory: true}},
		}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.report.Ready(); got != tc.want {
				t.Fatalf("Ready() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRunReportsDependencies(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StagingDir = t.TempDir()
	cfg.Paths.OutputDir = t.TempDir()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Synthesis.VoiceBinary = "definitely-missing-espeak"

	report := Run(context.Background(), &cfg, Options{})
	if len(report.Dependencies) != 4 || len(report.Checks) == 0 {
		t.Fatalf("incomplete report %#v", report)
	}
	last := report.Dependencies[3]
	if last.Available || !last.Optional {
		t.Fatalf("espeak status = %#v", last)
	}
}

func TestRunWithStubbedBinaries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	report := Run(context.Background(), cfg, Options{})
	if missing := deps.MissingRequired(report.Dependencies); len(missing) != 0 {
		t.Fatalf("stubbed binaries reported missing: %#v", missing)
	}
	for _, dep := range report.Dependencies {
		if !dep.Available {
			t.Fatalf("%s unavailable: %s", dep.Name, dep.Detail)
		}
	}
}
