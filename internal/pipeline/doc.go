// Package pipeline owns processing runs end to end.
//
// A Controller accepts a source and a Mode, creates a Run, and drives it
// through open, transcribe, transform (translate or synthesize), and the
// pipelined composite+encode stage. Run state is mutated only by the
// Controller; callers observe immutable Snapshots through Progress, Wait,
// List, and Subscribe.
//
// Progress uses fixed stage weights (transcribe 30, transform 20,
// composite+encode 50) and never moves backwards. Stage failures are
// classified with services.KindOf: resource errors retry the failing stage
// once, every other kind ends the run. Cancellation reaches each stage
// through its context and yields the cancelled state with no output.
package pipeline
