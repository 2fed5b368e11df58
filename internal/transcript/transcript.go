package transcript

import (
	"sort"
	"strings"
)

// Segment is one timed utterance. Times are seconds from the start of the source.
type Segment struct {
	Start         float64 `json:"start"`
	End           float64 `json:"end"`
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence"`
	LowConfidence bool    `json:"low_confidence,omitempty"`
}

// Duration returns End - Start.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Contains reports whether t falls inside [Start, End].
func (s Segment) Contains(t float64) bool {
	return t >= s.Start && t <= s.End
}

// Transcript is an immutable ordered list of segments plus the language they
// are written in.
type Transcript struct {
	language string
	segments []Segment
}

// New builds a transcript from already-normalized segments. The slice is copied.
func New(language string, segments []Segment) Transcript {
	return Transcript{
		language: strings.TrimSpace(language),
		segments: append([]Segment(nil), segments...),
	}
}

// Language returns the ISO 639-1 code of the text, or "" when unknown.
func (t Transcript) Language() string {
	return t.language
}

// Segments returns a copy of the segments.
func (t Transcript) Segments() []Segment {
	return append([]Segment(nil), t.segments...)
}

// Len returns the number of segments.
func (t Transcript) Len() int {
	return len(t.segments)
}

// Segment returns segment i.
func (t Transcript) Segment(i int) Segment {
	return t.segments[i]
}

// Empty reports whether the transcript has no segments.
func (t Transcript) Empty() bool {
	return len(t.segments) == 0
}

// Text joins every segment's text with single spaces.
func (t Transcript) Text() string {
	parts := make([]string, 0, len(t.segments))
	for _, seg := range t.segments {
		parts = append(parts, seg.Text)
	}
	return strings.Join(parts, " ")
}

// WithTexts returns a transcript in language whose segment timings match t
// exactly and whose texts are replaced in order. It panics if the counts differ.
func (t Transcript) WithTexts(language string, texts []string) Transcript {
	if len(texts) != len(t.segments) {
		panic("transcript: text count does not match segment count")
	}
	out := make([]Segment, len(t.segments))
	for i, seg := range t.segments {
		seg.Text = texts[i]
		out[i] = seg
	}
	return Transcript{language: strings.TrimSpace(language), segments: out}
}

// At returns the segment visible at time ts: the last segment whose start is
// <= ts, provided ts <= its end. On a shared boundary the later segment wins.
func (t Transcript) At(ts float64) (Segment, int, bool) {
	i := t.IndexAt(ts)
	if i < 0 {
		return Segment{}, -1, false
	}
	return t.segments[i], i, true
}

// IndexAt is At without the copy; it returns -1 when no segment matches.
func (t Transcript) IndexAt(ts float64) int {
	n := len(t.segments)
	// first segment with Start > ts
	i := sort.Search(n, func(k int) bool { return t.segments[k].Start > ts })
	if i == 0 {
		return -1
	}
	if ts <= t.segments[i-1].End {
		return i - 1
	}
	return -1
}
