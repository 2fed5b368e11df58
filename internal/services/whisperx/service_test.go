package whisperx

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestBuildArgsCPUAndLanguage(t *testing.T) {
	svc := NewService(Config{Model: "small"})
	args := svc.buildArgs("/tmp/a.wav", "/tmp/out", "Spanish")

	for _, want := range []string{"whisperx", "/tmp/a.wav", "small", "--language", "es", "--compute_type", CPUComputeType} {
		if !slices.Contains(args, want) {
			t.Fatalf("args missing %q: %v", want, args)
		}
	}
	if slices.Contains(args, "--hf_token") {
		t.Fatalf("silero run should not pass hf_token: %v", args)
	}
}

func TestBuildArgsAutoLanguageOmitsFlag(t *testing.T) {
	svc := NewService(Config{CUDAEnabled: true, VADMethod: VADMethodPyannote, HFToken: "tok"})
	args := svc.buildArgs("/tmp/a.wav", "/tmp/out", "auto")
	if slices.Contains(args, "--language") {
		t.Fatalf("auto language should not pass --language: %v", args)
	}
	if !slices.Contains(args, CUDADevice) || !slices.Contains(args, CUDAIndexURL) {
		t.Fatalf("expected cuda args: %v", args)
	}
	if !slices.Contains(args, "tok") {
		t.Fatalf("expected hf token: %v", args)
	}
}

func TestTranscribeParsesOutput(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "audio.wav")
	svc := NewService(Config{})
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if name != UVXCommand {
			t.Fatalf("unexpected command %q", name)
		}
		body := `{"language":"en","segments":[
			{"text":" Hello there.","start":0.5,"end":1.5,"words":[{"word":"Hello","score":0.9},{"word":"there.","score":0.5}]},
			{"text":"Unscored","start":2,"end":3,"words":[{"word":"Unscored"}]}
		]}`
		return nil, os.WriteFile(filepath.Join(dir, "audio.json"), []byte(body), 0o644)
	})

	result, err := svc.Transcribe(context.Background(), source, dir, "auto")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if result.Language != "en" {
		t.Fatalf("language = %q", result.Language)
	}
	if len(result.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(result.Segments))
	}
	if got := result.Segments[0].Confidence(); got < 0.699 || got > 0.701 {
		t.Fatalf("confidence = %v, want 0.7", got)
	}
	if got := result.Segments[1].Confidence(); got != 1 {
		t.Fatalf("unscored confidence = %v, want 1", got)
	}
}

func TestTranscribeClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		output string
		err    error
		want   error
	}{
		{"missing launcher", "", exec.ErrNotFound, ErrUnavailable},
		{"oom", "RuntimeError: CUDA out of memory", errors.New("exit status 1"), ErrModelLoad},
		{"generic", "boom", errors.New("exit status 2"), ErrUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewService(Config{})
			svc.WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
				return []byte(tc.output), tc.err
			})
			_, err := svc.Transcribe(context.Background(), filepath.Join(t.TempDir(), "a.wav"), t.TempDir(), "en")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestTranscribeMissingOutputIsModelLoad(t *testing.T) {
	svc := NewService(Config{})
	svc.WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) { return nil, nil })
	_, err := svc.Transcribe(context.Background(), filepath.Join(t.TempDir(), "a.wav"), t.TempDir(), "en")
	if !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
	if !strings.Contains(err.Error(), "read whisperx json") {
		t.Fatalf("unexpected error text %v", err)
	}
}
