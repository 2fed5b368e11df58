// Package transcript holds timed text segments and the invariants every stage
// relies on: segments are ordered by start, never overlap, and never carry
// empty text.
//
// Normalize establishes those invariants on raw recognizer output, Filter
// drops common recognizer hallucinations, and the SRT helpers export or read
// a transcript as a subtitle sidecar.
package transcript
