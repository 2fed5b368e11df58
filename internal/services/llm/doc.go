// Package llm talks to an OpenRouter-compatible chat completion endpoint for
// subtitle translation.
//
// Every request runs in JSON mode at temperature 0. CompleteInto decodes the
// answer into a caller struct and tolerates fenced or prose-wrapped JSON.
// Rate limits, 5xx answers, timeouts and empty completions are retried with
// doubling delays (Retry-After wins when present); IsAuthError flags rejected
// keys so callers can report them without retrying.
package llm
