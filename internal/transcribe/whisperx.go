package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"overdub/internal/config"
	"overdub/internal/language"
	"overdub/internal/media"
	"overdub/internal/services/whisperx"
	"overdub/internal/transcript"
)

// WhisperX recognizes speech by running WhisperX on the extracted track.
type WhisperX struct {
	service *whisperx.Service
	workDir string
}

var _ Recognizer = (*WhisperX)(nil)

// NewWhisperX builds the production recognizer. Output files are written to
// temporary directories under workDir and removed after parsing.
func NewWhisperX(service *whisperx.Service, workDir string) *WhisperX {
	return &WhisperX{service: service, workDir: workDir}
}

// NewWhisperXFromConfig builds a recognizer from the transcription section.
func NewWhisperXFromConfig(cfg *config.Config) *WhisperX {
	svc := whisperx.NewService(whisperx.Config{
		Model:       cfg.Transcription.WhisperXModel,
		CUDAEnabled: cfg.Transcription.CUDAEnabled,
		VADMethod:   cfg.Transcription.VADMethod,
		HFToken:     cfg.Transcription.HuggingFaceToken,
	})
	return NewWhisperX(svc, cfg.Paths.StagingDir)
}

// Recognize implements Recognizer.
func (w *WhisperX) Recognize(ctx context.Context, audio media.AudioStream, lang string) (Recognition, error) {
	if w.service == nil {
		return Recognition{}, fmt.Errorf("%w: whisperx service not configured", ErrModelLoad)
	}
	if w.workDir != "" {
		if err := os.MkdirAll(w.workDir, 0o755); err != nil {
			return Recognition{}, fmt.Errorf("create work dir: %w", err)
		}
	}
	outDir, err := os.MkdirTemp(w.workDir, "whisperx-")
	if err != nil {
		return Recognition{}, fmt.Errorf("create output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if language.IsAuto(lang) {
		lang = ""
	}
	result, err := w.service.Transcribe(ctx, audio.Path, outDir, lang)
	if err != nil {
		if errors.Is(err, whisperx.ErrModelLoad) || errors.Is(err, whisperx.ErrUnavailable) {
			return Recognition{}, errors.Join(ErrModelLoad, err)
		}
		return Recognition{}, err
	}

	chunks := make([]transcript.Segment, 0, len(result.Segments))
	for _, seg := range result.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		chunks = append(chunks, transcript.Segment{
			Start:      seg.Start,
			End:        seg.End,
			Text:       text,
			Confidence: seg.Confidence(),
		})
	}
	return Recognition{Language: result.Language, Chunks: chunks}, nil
}
