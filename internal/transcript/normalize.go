package transcript

import (
	"sort"
	"strings"
)

// Normalize sorts segments by start and removes overlaps so that
// segment[i].End <= segment[i+1].Start for every i:
//   - empty text is dropped
//   - a segment sharing the previous start, or lying inside the previous one,
//     is merged into it
//   - a partial overlap clips the previous end to the next start
//
// Starts before zero are clamped to zero, then segments whose end does not
// exceed their start are dropped. The input is not modified.
func Normalize(segments []Segment) []Segment {
	work := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		seg.Text = strings.Join(strings.Fields(seg.Text), " ")
		seg.Start = max(seg.Start, 0)
		if seg.Text == "" || seg.End <= seg.Start {
			continue
		}
		work = append(work, seg)
	}
	sort.SliceStable(work, func(i, j int) bool {
		if work[i].Start == work[j].Start {
			return work[i].End < work[j].End
		}
		return work[i].Start < work[j].Start
	})

	out := make([]Segment, 0, len(work))
	for _, seg := range work {
		if len(out) == 0 {
			out = append(out, seg)
			continue
		}
		prev := &out[len(out)-1]
		switch {
		case seg.Start == prev.Start || seg.End <= prev.End:
			mergeInto(prev, seg)
		case seg.Start < prev.End:
			prev.End = seg.Start
			out = append(out, seg)
		default:
			out = append(out, seg)
		}
	}
	return out
}

func mergeInto(prev *Segment, seg Segment) {
	if seg.End > prev.End {
		prev.End = seg.End
	}
	if !strings.Contains(prev.Text, seg.Text) {
		prev.Text = prev.Text + " " + seg.Text
	}
	prev.Confidence = min(prev.Confidence, seg.Confidence)
	prev.LowConfidence = prev.LowConfidence || seg.LowConfidence
}

// MarkLowConfidence flags every segment whose confidence is below threshold.
func MarkLowConfidence(segments []Segment, threshold float64) []Segment {
	out := append([]Segment(nil), segments...)
	for i := range out {
		out[i].LowConfidence = out[i].Confidence < threshold
	}
	return out
}
