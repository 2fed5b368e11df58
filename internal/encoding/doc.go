// Package encoding writes composited frames to a video container.
//
// Frames arrive on a bounded channel in index order. A WriterFactory (Vidio
// in production) stores the picture in a side file; the mux step then copies
// it next to a single AAC audio track and corrects the frame rate, writing a
// temporary file that is renamed into place only after the result validates.
// Any failure removes the working files.
//
// ErrEncoderInit marks a writer that cannot start, including one that fails
// on its first frame, and is never retried. ErrWrite marks a failed frame
// write, mux or incomplete stream; a write is retried in place before the
// error surfaces and the pipeline may retry the whole stage once.
package encoding
