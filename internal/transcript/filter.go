package transcript

import (
	"regexp"
	"strings"
	"unicode"
)

// Removal records one segment dropped by Filter.
type Removal struct {
	Segment Segment
	Reason  string // isolated_hallucination, repeated_hallucination, music_symbols, trailing_hallucination, trailing_music
}

// Phrases speech recognizers emit over silence or music, in normalized form.
var hallucinationPhrases = map[string]bool{
	"thank you":              true,
	"thank you for watching": true,
	"thanks for watching":    true,
	"please subscribe":       true,
	"like and subscribe":     true,
	"well be right back":     true,
	"bye":                    true,
	"bye bye":                true,
	"see you next time":      true,
	"see you later":          true,
}

var punctuationRe = regexp.MustCompile(`[^\p{L}\p{N}\s]`)

const (
	isolationGap      = 30.0
	repeatGap         = 10.0
	trailingWindow    = 300.0
	minRepeatedRunLen = 3
)

// Filter removes recognizer hallucinations from normalized segments:
// stock phrases and music-symbol cues surrounded by long silence, runs of
// three or more identical cues spaced far apart, and, for sources longer
// than ten minutes, stock phrases or music in the final five minutes.
func Filter(segments []Segment, sourceSeconds float64) ([]Segment, []Removal) {
	kept, removals := removeIsolated(segments)
	kept, trailing := sweepTrailing(kept, sourceSeconds)
	return kept, append(removals, trailing...)
}

func removeIsolated(segments []Segment) ([]Segment, []Removal) {
	if len(segments) == 0 {
		return segments, nil
	}
	remove := make([]bool, len(segments))
	var removals []Removal
	markRepeated(segments, remove, &removals)

	for i := range segments {
		if remove[i] {
			continue
		}
		isolated := gapBefore(segments, i) >= isolationGap && gapAfter(segments, i) >= isolationGap
		if !isolated {
			continue
		}
		if hallucinationPhrases[normalizeText(segments[i].Text)] {
			remove[i] = true
			removals = append(removals, Removal{Segment: segments[i], Reason: "isolated_hallucination"})
			continue
		}
		if isMusicText(segments[i].Text) {
			remove[i] = true
			removals = append(removals, Removal{Segment: segments[i], Reason: "music_symbols"})
		}
	}

	kept := make([]Segment, 0, len(segments))
	for i, seg := range segments {
		if !remove[i] {
			kept = append(kept, seg)
		}
	}
	return kept, removals
}

func markRepeated(segments []Segment, remove []bool, removals *[]Removal) {
	i := 0
	for i < len(segments) {
		norm := normalizeText(segments[i].Text)
		if norm == "" {
			i++
			continue
		}
		runEnd := i + 1
		for runEnd < len(segments) {
			if normalizeText(segments[runEnd].Text) != norm {
				break
			}
			if segments[runEnd].Start-segments[runEnd-1].End <= repeatGap {
				break
			}
			runEnd++
		}
		if runEnd-i >= minRepeatedRunLen {
			for j := i; j < runEnd; j++ {
				remove[j] = true
				*removals = append(*removals, Removal{Segment: segments[j], Reason: "repeated_hallucination"})
			}
		}
		i = runEnd
	}
}

func sweepTrailing(segments []Segment, sourceSeconds float64) ([]Segment, []Removal) {
	if sourceSeconds < 2*trailingWindow || len(segments) == 0 {
		return segments, nil
	}
	threshold := sourceSeconds - trailingWindow
	var removals []Removal
	kept := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		switch {
		case seg.Start < threshold:
			kept = append(kept, seg)
		case hallucinationPhrases[normalizeText(seg.Text)]:
			removals = append(removals, Removal{Segment: seg, Reason: "trailing_hallucination"})
		case isMusicText(seg.Text):
			removals = append(removals, Removal{Segment: seg, Reason: "trailing_music"})
		default:
			kept = append(kept, seg)
		}
	}
	return kept, removals
}

func gapBefore(segments []Segment, i int) float64 {
	if i == 0 {
		return segments[i].Start
	}
	return segments[i].Start - segments[i-1].End
}

func gapAfter(segments []Segment, i int) float64 {
	if i >= len(segments)-1 {
		return 1e9
	}
	return segments[i+1].Start - segments[i].End
}

// isMusicText reports text made only of music notation and whitespace.
func isMusicText(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	for _, r := range text {
		switch {
		case r == '¶', r == '♪', r == '♫', r == '*':
		case unicode.IsSpace(r):
		default:
			return false
		}
	}
	return true
}

func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = punctuationRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}
