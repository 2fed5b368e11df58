package whisperx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	langpkg "overdub/internal/language"
)

var (
	// ErrUnavailable indicates the uvx launcher could not be started.
	ErrUnavailable = errors.New("whisperx unavailable")
	// ErrModelLoad indicates WhisperX started but could not load its model.
	ErrModelLoad = errors.New("whisperx model load failed")
)

// modelLoadMarkers are substrings of WhisperX/torch output that indicate the
// model never became usable.
var modelLoadMarkers = []string{
	"out of memory",
	"failed to load",
	"error loading model",
	"no such model",
	"invalid model",
	"cudnn",
	"unpickling",
}

// CommandRunner executes an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Service provides WhisperX transcription capabilities.
type Service struct {
	cfg           Config
	commandRunner CommandRunner
}

// NewService creates a WhisperX service with the given configuration.
func NewService(cfg Config) *Service {
	return &Service{cfg: cfg}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner CommandRunner) {
	s.commandRunner = runner
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return DefaultModel
}

// CUDAEnabled returns whether CUDA is enabled.
func (s *Service) CUDAEnabled() bool {
	return s.cfg.CUDAEnabled
}

func (s *Service) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec

	// Torch 2.6 changed torch.load default to weights_only=true, breaking WhisperX/pyannote.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}
	return cmd.CombinedOutput()
}

// Result contains the parsed output of a transcription.
type Result struct {
	// Language is the language WhisperX used or detected (ISO 639-1).
	Language string
	Segments []Segment
	// JSONPath is the path to the WhisperX JSON output.
	JSONPath string
}

// Transcribe runs WhisperX on a WAV file and returns its segments.
// outputDir is where WhisperX will write its output files. An empty or "auto"
// language lets WhisperX detect it.
func (s *Service) Transcribe(ctx context.Context, source, outputDir, language string) (Result, error) {
	var result Result

	if source == "" {
		return result, errors.New("transcribe: source path required")
	}
	if outputDir == "" {
		outputDir = filepath.Dir(source)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return result, fmt.Errorf("transcribe: ensure output dir: %w", err)
	}

	args := s.buildArgs(source, outputDir, language)
	output, err := s.run(ctx, UVXCommand, args...)
	if err != nil {
		return result, classifyRunError(ctx, err, output)
	}

	baseName := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	result.JSONPath = filepath.Join(outputDir, baseName+".json")
	parsed, err := loadPayload(result.JSONPath)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	result.Segments = parsed.Segments
	result.Language = langpkg.ToISO2(parsed.Language)
	if result.Language == "" {
		result.Language = langpkg.ToISO2(language)
	}
	return result, nil
}

func classifyRunError(ctx context.Context, err error, output []byte) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	detail := strings.TrimSpace(string(output))
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, UVXCommand, err)
	}
	lower := strings.ToLower(detail)
	for _, marker := range modelLoadMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %w: %s", ErrModelLoad, err, lastLine(detail))
		}
	}
	return fmt.Errorf("%w: %w: %s", ErrUnavailable, err, lastLine(detail))
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// buildArgs constructs the uvx command arguments for WhisperX.
func (s *Service) buildArgs(source, outputDir, language string) []string {
	args := make([]string, 0, 40)

	if s.cfg.CUDAEnabled {
		args = append(args,
			"--index-url", CUDAIndexURL,
			"--extra-index-url", PypiIndexURL,
		)
	} else {
		args = append(args, "--index-url", PypiIndexURL)
	}

	args = append(args,
		"whisperx",
		source,
		"--model", s.Model(),
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
		"--segment_resolution", SegmentResolution,
		"--chunk_size", ChunkSize,
		"--vad_onset", VADOnset,
		"--vad_offset", VADOffset,
		"--beam_size", BeamSize,
		"--best_of", BestOf,
		"--temperature", Temperature,
		"--patience", Patience,
	)

	vadMethod := s.cfg.VADMethod
	if vadMethod == "" {
		vadMethod = VADMethodSilero
	}
	args = append(args, "--vad_method", vadMethod)
	if vadMethod == VADMethodPyannote && s.cfg.HFToken != "" {
		args = append(args, "--hf_token", s.cfg.HFToken)
	}

	if !langpkg.IsAuto(language) {
		if lang := langpkg.ToISO2(language); lang != "" {
			args = append(args, "--language", lang)
		}
	}

	if s.cfg.CUDAEnabled {
		args = append(args, "--device", CUDADevice)
	} else {
		args = append(args, "--device", CPUDevice, "--compute_type", CPUComputeType)
	}

	return args
}

// Word represents a single aligned word from WhisperX output.
type Word struct {
	Word  string   `json:"word"`
	Start float64  `json:"start"`
	End   float64  `json:"end"`
	Score *float64 `json:"score"`
}

// Segment represents a transcribed segment from WhisperX JSON output.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word  `json:"words"`
}

// Confidence is the mean alignment score of the segment's words. Segments
// without scored words report 1.
func (s Segment) Confidence() float64 {
	var sum float64
	var n int
	for _, w := range s.Words {
		if w.Score == nil {
			continue
		}
		sum += *w.Score
		n++
	}
	if n == 0 {
		return 1
	}
	c := sum / float64(n)
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

type payload struct {
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

func loadPayload(jsonPath string) (payload, error) {
	var p payload
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return p, fmt.Errorf("read whisperx json: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse whisperx json: %w", err)
	}
	return p, nil
}

// LoadSegments loads segments from a WhisperX JSON file.
func LoadSegments(jsonPath string) ([]Segment, error) {
	p, err := loadPayload(jsonPath)
	if err != nil {
		return nil, err
	}
	return p.Segments, nil
}
