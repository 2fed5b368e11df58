// Package media opens caller-supplied video bytes and decodes them with
// ffmpeg.
//
// Open sniffs the container, stages the bytes into a private file, and probes
// it with ffprobe into an immutable Handle. The resulting File serves random
// frame lookups, sequential frame ranges for the compositor workers, and a
// 16 kHz mono WAV of the primary audio track for recognition. Every call
// spawns its own decoder process, so a File is safe for concurrent use.
package media
