// Package composite renders overlays onto decoded frames and streams the
// result, in order, to the encoder.
//
// Every output frame is a pure function of its source frame, the Plan, and
// its timestamp, so chunks of the timeline can be composed in parallel.
package composite

import (
	"math"

	"overdub/internal/synth"
	"overdub/internal/transcript"
)

// Plan describes what to draw on every frame.
type Plan struct {
	// Transcript supplies caption text. Empty transcripts draw nothing.
	Transcript transcript.Transcript
	// Captions enables the bottom caption band.
	Captions bool
	// Badge, when set, is drawn in the top-left corner (translate mode).
	Badge string
	// Dub, when set, drives the top-right dubbing indicator.
	Dub *DubTrack
	// FPS sets the indicator's sampling window of one frame.
	FPS float64
}

// CaptionAt returns the segment visible at t.
func (p *Plan) CaptionAt(t float64) (transcript.Segment, bool) {
	if p == nil || !p.Captions {
		return transcript.Segment{}, false
	}
	seg, _, ok := p.Transcript.At(t)
	return seg, ok
}

// IndicatorAt returns the dubbing indicator intensity in [0, 1] for the frame
// starting at t, or -1 when no indicator is drawn.
func (p *Plan) IndicatorAt(t float64) float64 {
	if p == nil || p.Dub == nil || p.FPS <= 0 {
		return -1
	}
	return p.Dub.RMS(t, t+1/p.FPS)
}

// DubTrack is the full-length replacement narration.
type DubTrack struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the track length in seconds.
func (d *DubTrack) Duration() float64 {
	if d == nil || d.SampleRate <= 0 {
		return 0
	}
	return float64(len(d.Samples)) / float64(d.SampleRate)
}

// BuildDubTrack lays clips onto ceil(duration * sampleRate) samples of
// silence. clips[i] starts at segment i's start and is truncated at its end;
// shorter clips leave silence. Clips at another sample rate are resampled by
// nearest neighbour.
func BuildDubTrack(duration float64, sampleRate int, tr transcript.Transcript, clips []synth.Audio) *DubTrack {
	if sampleRate <= 0 {
		sampleRate = synth.DefaultSampleRate
	}
	total := 0
	if duration > 0 {
		total = int(math.Ceil(duration*float64(sampleRate) - 1e-9))
	}
	track := &DubTrack{Samples: make([]int16, total), SampleRate: sampleRate}
	n := min(tr.Len(), len(clips))
	for i := 0; i < n; i++ {
		seg := tr.Segment(i)
		clip := clips[i]
		start := int(math.Round(seg.Start * float64(sampleRate)))
		end := min(int(math.Round(seg.End*float64(sampleRate))), total)
		if start >= end || len(clip.Samples) == 0 {
			continue
		}
		ratio := 1.0
		if clip.SampleRate > 0 && clip.SampleRate != sampleRate {
			ratio = float64(clip.SampleRate) / float64(sampleRate)
		}
		for dst := start; dst < end; dst++ {
			src := int(float64(dst-start) * ratio)
			if src >= len(clip.Samples) {
				break
			}
			track.Samples[dst] = clip.Samples[src]
		}
	}
	return track
}

// RMS returns the normalized root-mean-square amplitude over [from, to).
func (d *DubTrack) RMS(from, to float64) float64 {
	if d == nil || d.SampleRate <= 0 || to <= from {
		return 0
	}
	rate := float64(d.SampleRate)
	lo := max(0, int(math.Floor(from*rate)))
	hi := min(len(d.Samples), int(math.Floor(to*rate)))
	if hi <= lo {
		return 0
	}
	var sum float64
	for _, s := range d.Samples[lo:hi] {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Min(1, math.Sqrt(sum/float64(hi-lo)))
}
