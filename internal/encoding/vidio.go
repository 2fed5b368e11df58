package encoding

import (
	"fmt"
	"math"
	"os"
	"os/exec"
	"strings"

	vidio "github.com/AlexEidt/Vidio"
)

// vidioWriter stores the picture through Vidio. Vidio prints the rate with
// two decimals, so FrameRate reports what actually lands in the file and the
// mux step rescales timestamps back to the exact rate.
type vidioWriter struct {
	w   *vidio.VideoWriter
	fps float64
}

// NewVidioWriter opens an ffmpeg-backed writer through Vidio. Frames keep
// their size: macroblock padding is disabled.
func NewVidioWriter(path string, width, height int, opts WriterOptions) (Writer, error) {
	if err := checkVidioBinary(opts.Binary); err != nil {
		return nil, err
	}
	options := vidio.Options{
		FPS:     opts.FPS,
		Quality: opts.Quality,
		Codec:   opts.Codec,
		Macro:   1,
	}
	w, err := vidio.NewVideoWriter(path, width, height, &options)
	if err != nil {
		return nil, err
	}
	return &vidioWriter{w: w, fps: vidioRate(opts.FPS)}, nil
}

func (v *vidioWriter) Write(frame []byte) error {
	return v.w.Write(frame)
}

func (v *vidioWriter) Close() error {
	v.w.Close()
	return nil
}

func (v *vidioWriter) FrameRate() float64 {
	return v.fps
}

// vidioRate is the rate Vidio passes to ffmpeg for fps.
func vidioRate(fps float64) float64 {
	if fps <= 0 {
		fps = 25
	}
	return math.Round(fps*100) / 100
}

// checkVidioBinary fails when the configured ffmpeg is not the one Vidio
// will run, which is always "ffmpeg" from PATH.
func checkVidioBinary(binary string) error {
	binary = strings.TrimSpace(binary)
	if binary == "" || binary == "ffmpeg" {
		return nil
	}
	want, err := exec.LookPath(binary)
	if err != nil {
		return fmt.Errorf("resolve ffmpeg binary %q: %w", binary, err)
	}
	got, err := exec.LookPath("ffmpeg")
	if err != nil {
		return fmt.Errorf("frame writer runs ffmpeg from PATH: %w", err)
	}
	if !sameFile(want, got) {
		return fmt.Errorf("frame writer runs %s from PATH, but ffmpeg binary is configured as %s", got, want)
	}
	return nil
}

func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
