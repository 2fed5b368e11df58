package synth_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"overdub/internal/services"
	"overdub/internal/synth"
	"overdub/internal/transcript"
)

// fixedVoice speaks every text in baseSeconds at rate 1, scaling inversely
// with rate.
type fixedVoice struct {
	baseSeconds float64
	sampleRate  int
	rates       []float64
	err         error
	onSpeak     func()
}

func (v *fixedVoice) Speak(_ context.Context, _, _ string, rate float64) (synth.Speech, error) {
	v.rates = append(v.rates, rate)
	if v.onSpeak != nil {
		v.onSpeak()
	}
	if v.err != nil {
		return synth.Speech{}, v.err
	}
	n := int(math.Round(v.baseSeconds / rate * float64(v.sampleRate)))
	return synth.Speech{Samples: make([]int16, n), SampleRate: v.sampleRate}, nil
}

func TestSynthesizeFitsWithinTolerance(t *testing.T) {
	voice := &fixedVoice{baseSeconds: 4, sampleRate: 1000}
	s := synth.New(voice, synth.Options{})

	audio, err := s.Synthesize(context.Background(), "hello", "en", 3.5)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if audio.HasWarning(synth.DurationMismatch) {
		t.Fatalf("unexpected mismatch warning: %+v", audio)
	}
	if math.Abs(audio.Duration-3.5) > 0.35 {
		t.Fatalf("duration = %v", audio.Duration)
	}
	if len(voice.rates) != 2 || voice.rates[0] != 1 {
		t.Fatalf("rates = %v", voice.rates)
	}
}

func TestSynthesizeReportsDurationMismatch(t *testing.T) {
	voice := &fixedVoice{baseSeconds: 5, sampleRate: 1000}
	s := synth.New(voice, synth.Options{MinRate: 0.75, MaxRate: 1.5, Tolerance: 0.1, MaxAttempts: 3})

	audio, err := s.Synthesize(context.Background(), "a long sentence", "en", 3)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !audio.HasWarning(synth.DurationMismatch) {
		t.Fatalf("expected DurationMismatch, got %+v", audio.Warnings)
	}
	if audio.Rate != 1.5 {
		t.Fatalf("rate = %v, want clamped 1.5", audio.Rate)
	}
	if math.Abs(audio.Duration-5.0/1.5) > 1e-3 {
		t.Fatalf("duration = %v", audio.Duration)
	}
	for _, r := range voice.rates {
		if r < 0.75 || r > 1.5 {
			t.Fatalf("rate %v outside bounds", r)
		}
	}
}

func TestSynthesizeStopsAfterMaxAttempts(t *testing.T) {
	// Output never changes with rate, so every correction fails.
	voice := &stubbornVoice{}
	s := synth.New(voice, synth.Options{MinRate: 0.5, MaxRate: 4, MaxAttempts: 2})
	audio, err := s.Synthesize(context.Background(), "x", "en", 1)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if voice.calls != 3 {
		t.Fatalf("expected initial call plus 2 corrections, got %d", voice.calls)
	}
	if !audio.HasWarning(synth.DurationMismatch) {
		t.Fatal("expected mismatch warning")
	}
}

type stubbornVoice struct{ calls int }

func (v *stubbornVoice) Speak(context.Context, string, string, float64) (synth.Speech, error) {
	v.calls++
	return synth.Speech{Samples: make([]int16, 2000), SampleRate: 1000}, nil
}

func TestSynthesizeVoiceFailureIsModelError(t *testing.T) {
	s := synth.New(&fixedVoice{err: errors.New("espeak crashed")}, synth.Options{})
	_, err := s.Synthesize(context.Background(), "hi", "en", 1)
	if services.KindOf(err) != services.KindModel {
		t.Fatalf("expected model error, got %v", err)
	}
}

func TestSynthesizeEmptyTextIsSilent(t *testing.T) {
	voice := &fixedVoice{baseSeconds: 1, sampleRate: 1000}
	audio, err := synth.New(voice, synth.Options{SampleRate: 8000}).Synthesize(context.Background(), "  ", "en", 2)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(audio.Samples) != 0 || audio.SampleRate != 8000 || len(voice.rates) != 0 {
		t.Fatalf("unexpected audio %+v (calls %d)", audio, len(voice.rates))
	}
}

func TestSynthesizeTranscriptCancelsAtSegmentBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	voice := &fixedVoice{baseSeconds: 1, sampleRate: 1000, onSpeak: cancel}
	tr := transcript.New("en", []transcript.Segment{
		{Start: 0, End: 1, Text: "one"},
		{Start: 1, End: 2, Text: "two"},
	})
	var done []int
	_, err := synth.New(voice, synth.Options{}).SynthesizeTranscript(ctx, tr, func(d, _ int) { done = append(done, d) })
	if services.KindOf(err) != services.KindCancelled {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(done) != 1 {
		t.Fatalf("expected first segment to finish, progress %v", done)
	}
}

func TestSynthesizeTranscriptReturnsOnePerSegment(t *testing.T) {
	voice := &fixedVoice{baseSeconds: 1, sampleRate: 1000}
	tr := transcript.New("pt", []transcript.Segment{
		{Start: 0, End: 1, Text: "um"},
		{Start: 2, End: 3, Text: "dois"},
		{Start: 4, End: 5, Text: "três"},
	})
	audios, err := synth.New(voice, synth.Options{}).SynthesizeTranscript(context.Background(), tr, nil)
	if err != nil {
		t.Fatalf("SynthesizeTranscript: %v", err)
	}
	if len(audios) != 3 {
		t.Fatalf("expected 3 clips, got %d", len(audios))
	}
}
