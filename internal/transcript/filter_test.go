package transcript

import "testing"

func TestFilter(t *testing.T) {
	tests := []struct {
		name        string
		in          []Segment
		source      float64
		wantTexts   []string
		wantReasons []string
	}{
		{
			name: "isolated stock phrase",
			in: []Segment{
				{Start: 10, End: 12, Text: "Hello there."},
				{Start: 100, End: 101, Text: "Thank you."},
				{Start: 200, End: 202, Text: "General Kenobi."},
			},
			source:      300,
			wantTexts:   []string{"Hello there.", "General Kenobi."},
			wantReasons: []string{"isolated_hallucination"},
		},
		{
			name: "stock phrase inside dialogue is kept",
			in: []Segment{
				{Start: 10, End: 12, Text: "Here is your coffee."},
				{Start: 13, End: 14, Text: "Thank you."},
			},
			source:    60,
			wantTexts: []string{"Here is your coffee.", "Thank you."},
		},
		{
			name: "isolated music cue",
			in: []Segment{
				{Start: 40, End: 45, Text: "♪ ♪"},
			},
			source:      120,
			wantReasons: []string{"music_symbols"},
		},
		{
			name: "repeated far-apart cues",
			in: []Segment{
				{Start: 0, End: 1, Text: "Okay."},
				{Start: 20, End: 21, Text: "okay"},
				{Start: 40, End: 41, Text: "OKAY!"},
				{Start: 42, End: 43, Text: "Something else."},
			},
			source:      60,
			wantTexts:   []string{"Something else."},
			wantReasons: []string{"repeated_hallucination", "repeated_hallucination", "repeated_hallucination"},
		},
		{
			name: "trailing sweep on long sources",
			in: []Segment{
				{Start: 100, End: 102, Text: "Real line."},
				{Start: 900, End: 901, Text: "Thanks for watching!"},
				{Start: 902, End: 903, Text: "♫"},
			},
			source:      1000,
			wantTexts:   []string{"Real line."},
			wantReasons: []string{"trailing_hallucination", "trailing_music"},
		},
		{
			name: "trailing sweep skipped on short sources",
			in: []Segment{
				{Start: 100, End: 102, Text: "Real line."},
				{Start: 103, End: 104, Text: "Bye."},
			},
			source:    200,
			wantTexts: []string{"Real line.", "Bye."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept, removals := Filter(tt.in, tt.source)
			if len(kept) != len(tt.wantTexts) {
				t.Fatalf("kept %d segments, want %d: %+v", len(kept), len(tt.wantTexts), kept)
			}
			for i := range kept {
				if kept[i].Text != tt.wantTexts[i] {
					t.Fatalf("kept[%d] = %q, want %q", i, kept[i].Text, tt.wantTexts[i])
				}
			}
			if len(removals) != len(tt.wantReasons) {
				t.Fatalf("removed %d segments, want %d: %+v", len(removals), len(tt.wantReasons), removals)
			}
			for i := range removals {
				if removals[i].Reason != tt.wantReasons[i] {
					t.Fatalf("removal[%d] reason = %q, want %q", i, removals[i].Reason, tt.wantReasons[i])
				}
			}
		})
	}
}
