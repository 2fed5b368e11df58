// Package daemon runs overdub as a long-lived HTTP service.
//
// It owns the single-instance lock in the state directory, the pipeline
// controller, and the optional run history store, and serves them through a
// chi router: uploads start runs, clients poll or stream snapshots over a
// websocket, and completed videos are downloaded from the result endpoint.
// Processing semantics live in the pipeline package; the daemon only adapts
// them to HTTP and persists what finished.
package daemon
