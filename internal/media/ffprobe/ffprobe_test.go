package ffprobe

import "testing"

const samplePayload = `{
  "streams": [
    {"index": 0, "codec_type": "video", "codec_name": "mjpeg", "width": 300, "height": 300, "disposition": {"attached_pic": 1}},
    {"index": 1, "codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720, "r_frame_rate": "30/1", "avg_frame_rate": "30000/1001", "duration": "12.000000"},
    {"index": 2, "codec_type": "audio", "codec_name": "aac", "sample_rate": "48000", "channels": 2, "tags": {"language": "eng"}},
    {"index": 3, "codec_type": "audio", "codec_name": "aac", "sample_rate": "44100", "channels": 2, "disposition": {"default": 1}}
  ],
  "format": {"filename": "in.mp4", "nb_streams": 4, "duration": "12.012000", "size": "1000", "format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
}`

func TestParseAndHelpers(t *testing.T) {
	result, err := Parse([]byte(samplePayload))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.VideoStreamCount() != 2 {
		t.Fatalf("expected 2 video streams, got %d", result.VideoStreamCount())
	}
	if result.AudioStreamCount() != 2 {
		t.Fatalf("expected 2 audio streams, got %d", result.AudioStreamCount())
	}
	if result.DurationSeconds() != 12.012 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 1000 {
		t.Fatalf("unexpected size: %d", result.SizeBytes())
	}

	video, ok := result.PrimaryVideo()
	if !ok || video.Index != 1 {
		t.Fatalf("expected primary video index 1, got %+v ok=%v", video, ok)
	}
	if fps := video.FrameRate(); fps < 29.97 || fps > 29.98 {
		t.Fatalf("unexpected frame rate: %v", fps)
	}

	audio, ok := result.PrimaryAudio()
	if !ok || audio.Index != 3 {
		t.Fatalf("expected default audio index 3, got %+v ok=%v", audio, ok)
	}
	if audio.SampleRateHz() != 44100 {
		t.Fatalf("unexpected sample rate: %d", audio.SampleRateHz())
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFrameRateFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		stream Stream
		want   float64
	}{
		{"avg preferred", Stream{AvgFrameRate: "25/1", RFrameRate: "50/1"}, 25},
		{"zero avg falls back", Stream{AvgFrameRate: "0/0", RFrameRate: "24/1"}, 24},
		{"plain number", Stream{RFrameRate: "30"}, 30},
		{"missing", Stream{}, 0},
		{"bad denominator", Stream{RFrameRate: "30/0"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stream.FrameRate(); got != tt.want {
				t.Fatalf("FrameRate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResultHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{
		Format: Format{Duration: "abc", Size: "-5"},
	}
	if result.DurationSeconds() != 0 {
		t.Fatalf("expected zero duration, got %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 0 {
		t.Fatalf("expected zero size, got %d", result.SizeBytes())
	}
	if _, ok := result.PrimaryVideo(); ok {
		t.Fatal("expected no video stream")
	}
	if _, ok := result.PrimaryAudio(); ok {
		t.Fatal("expected no audio stream")
	}
}
