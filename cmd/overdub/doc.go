// Command overdub captions, translates, or dubs videos.
//
// "overdub process" runs a single video in-process and shows progress;
// "overdub serve" starts the HTTP daemon. The remaining commands inspect
// history, external dependencies, and configuration.
package main
