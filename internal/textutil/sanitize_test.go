package textutil

import "testing"

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  plain name.mp4 ", "plain name.mp4"},
		{"a/b\\c:d*e", "a-b-c-d-e"},
		{`what?"<is>|this`, "whatisthis"},
		{"tab\there\x7f", "tabhere"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := SanitizeFileName(tc.in); got != tc.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFileStem(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/videos/holiday.mp4", "holiday"},
		{"talk.final.mkv", "talk.final"},
		{"", "video"},
		{".", "video"},
		{"/", "video"},
		{"what?.mp4", "what"},
		{"???.mov", "video"},
	}
	for _, tc := range tests {
		if got := FileStem(tc.in, "video"); got != tc.want {
			t.Errorf("FileStem(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
