// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect runs ffprobe and Parse decodes a captured payload. Helper methods
// pick the primary video and audio streams and parse durations and rational
// frame rates such as "30000/1001".
package ffprobe
