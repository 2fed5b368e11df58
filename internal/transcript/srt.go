package transcript

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteSRT renders t as SubRip cues numbered from 1.
func WriteSRT(w io.Writer, t Transcript) error {
	bw := bufio.NewWriter(w)
	for i, seg := range t.segments {
		if i > 0 {
			bw.WriteString("\n")
		}
		fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n", i+1, FormatSRTTimestamp(seg.Start), FormatSRTTimestamp(seg.End), seg.Text)
	}
	return bw.Flush()
}

// ParseSRT reads SubRip cues. Cue numbers are ignored and multi-line text is
// joined with spaces. The result is normalized.
func ParseSRT(r io.Reader, language string) (Transcript, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Transcript{}, fmt.Errorf("read srt: %w", err)
	}
	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	content = strings.TrimPrefix(strings.TrimSpace(content), "\ufeff")
	if content == "" {
		return New(language, nil), nil
	}

	var segments []Segment
	for _, block := range strings.Split(content, "\n\n") {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		timing := -1
		for i, line := range lines {
			if strings.Contains(line, "-->") {
				timing = i
				break
			}
		}
		if timing < 0 {
			continue
		}
		startText, endText, _ := strings.Cut(lines[timing], "-->")
		start, err := ParseSRTTimestamp(startText)
		if err != nil {
			return Transcript{}, err
		}
		end, err := ParseSRTTimestamp(endText)
		if err != nil {
			return Transcript{}, err
		}
		segments = append(segments, Segment{
			Start:      start,
			End:        end,
			Text:       strings.Join(lines[timing+1:], " "),
			Confidence: 1,
		})
	}
	return New(language, Normalize(segments)), nil
}

// FormatSRTTimestamp renders seconds as HH:MM:SS,mmm.
func FormatSRTTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	msTotal := int(seconds*1000 + 0.5)
	hours := msTotal / 3_600_000
	msTotal %= 3_600_000
	minutes := msTotal / 60_000
	msTotal %= 60_000
	secs := msTotal / 1_000
	millis := msTotal % 1_000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}

// ParseSRTTimestamp parses HH:MM:SS,mmm (a period separator is also accepted).
func ParseSRTTimestamp(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	value = strings.ReplaceAll(value, ".", ",")
	clock, millisText, ok := strings.Cut(value, ",")
	if !ok {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hms := strings.Split(clock, ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	seconds, errS := strconv.Atoi(hms[2])
	millis, errMS := strconv.Atoi(millisText)
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	return float64(hours*3600+minutes*60+seconds) + float64(millis)/1000, nil
}
