// Package whisperx invokes WhisperX through uvx and parses its JSON output.
//
// The service expects a mono 16 kHz WAV (see media.ExtractAudio) and writes
// WhisperX's output files into a caller-supplied directory. Segment
// confidence is derived from WhisperX word alignment scores.
//
// Configuration options (model, CUDA, VAD method) are passed via Config.
package whisperx
