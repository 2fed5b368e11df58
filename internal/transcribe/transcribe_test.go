package transcribe_test

import (
	"context"
	"errors"
	"testing"

	"overdub/internal/media"
	"overdub/internal/services"
	"overdub/internal/transcribe"
	"overdub/internal/transcript"
)

func staticRecognizer(rec transcribe.Recognition, err error) transcribe.RecognizerFunc {
	return func(context.Context, media.AudioStream, string) (transcribe.Recognition, error) {
		return rec, err
	}
}

func TestTranscribeNormalizesOrdering(t *testing.T) {
	rec := transcribe.Recognition{
		Language: "en",
		Chunks: []transcript.Segment{
			{Start: 4, End: 6, Text: "third", Confidence: 0.9},
			{Start: 0, End: 2.5, Text: "first", Confidence: 0.9},
			{Start: 2, End: 4, Text: "second", Confidence: 0.2},
			{Start: 7, End: 8, Text: "   ", Confidence: 0.9},
		},
	}
	tr := transcribe.New(staticRecognizer(rec, nil), transcribe.Options{LowConfidenceThreshold: 0.5})

	got, err := tr.Transcribe(context.Background(), media.AudioStream{Duration: 10}, "auto")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Language() != "en" {
		t.Fatalf("language = %q", got.Language())
	}
	segs := got.Segments()
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d: %+v", len(segs), segs)
	}
	for i := 1; i < len(segs); i++ {
		if segs[i-1].End > segs[i].Start {
			t.Fatalf("segments %d and %d overlap: %+v", i-1, i, segs)
		}
	}
	if segs[0].Text != "first" || segs[2].Text != "third" {
		t.Fatalf("unexpected order: %+v", segs)
	}
	if !segs[1].LowConfidence || segs[0].LowConfidence {
		t.Fatalf("low confidence flags wrong: %+v", segs)
	}
}

func TestTranscribeEmptyIsUnavailable(t *testing.T) {
	tr := transcribe.New(staticRecognizer(transcribe.Recognition{}, nil), transcribe.Options{})
	got, err := tr.Transcribe(context.Background(), media.AudioStream{}, "en")
	if !errors.Is(err, transcribe.ErrTranscriptionUnavailable) {
		t.Fatalf("expected ErrTranscriptionUnavailable, got %v", err)
	}
	if errors.Is(err, transcribe.ErrModelLoad) {
		t.Fatal("empty result must not look like a model failure")
	}
	if !got.Empty() || got.Language() != "en" {
		t.Fatalf("unexpected transcript %+v", got)
	}
}

func TestTranscribeBackendFailureIsModelLoad(t *testing.T) {
	tr := transcribe.New(staticRecognizer(transcribe.Recognition{}, errors.New("uvx: not found")), transcribe.Options{})
	_, err := tr.Transcribe(context.Background(), media.AudioStream{}, "auto")
	if !errors.Is(err, transcribe.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
	if errors.Is(err, transcribe.ErrTranscriptionUnavailable) {
		t.Fatal("model failure must not look like empty transcription")
	}
	if kind := services.KindOf(err); kind != services.KindModel {
		t.Fatalf("kind = %q, want model", kind)
	}
}

func TestTranscribeHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := transcribe.RecognizerFunc(func(context.Context, media.AudioStream, string) (transcribe.Recognition, error) {
		cancel()
		return transcribe.Recognition{Chunks: []transcript.Segment{{Start: 0, End: 1, Text: "hi"}}}, nil
	})
	_, err := transcribe.New(rec, transcribe.Options{}).Transcribe(ctx, media.AudioStream{}, "auto")
	if services.KindOf(err) != services.KindCancelled {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestTranscribeFiltersHallucinations(t *testing.T) {
	rec := transcribe.Recognition{
		Language: "en",
		Chunks: []transcript.Segment{
			{Start: 1, End: 3, Text: "Hello there", Confidence: 1},
			{Start: 60, End: 62, Text: "Thanks for watching!", Confidence: 1},
		},
	}
	tests := []struct {
		name   string
		filter bool
		want   int
	}{
		{"disabled", false, 2},
		{"enabled", true, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := transcribe.New(staticRecognizer(rec, nil), transcribe.Options{FilterHallucinations: tc.filter})
			got, err := tr.Transcribe(context.Background(), media.AudioStream{Duration: 120}, "en")
			if err != nil {
				t.Fatalf("Transcribe: %v", err)
			}
			if got.Len() != tc.want {
				t.Fatalf("expected %d segments, got %d", tc.want, got.Len())
			}
		})
	}
}

func TestTranscribeRejectsUnknownLanguage(t *testing.T) {
	tr := transcribe.New(staticRecognizer(transcribe.Recognition{}, nil), transcribe.Options{})
	_, err := tr.Transcribe(context.Background(), media.AudioStream{}, "klingon-xx-123")
	if services.KindOf(err) != services.KindInput {
		t.Fatalf("expected input error, got %v", err)
	}
}
