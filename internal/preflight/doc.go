// Package preflight provides readiness checks for the filesystem paths,
// host resources, and external services overdub depends on.
//
// The daemon reports these through /api/status and the CLI prints them with
// "overdub deps". Checks never modify anything; a failed check is reported,
// not fixed.
package preflight
