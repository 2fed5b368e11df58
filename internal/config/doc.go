// Package config loads, normalizes, and validates overdub configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENROUTER_API_KEY and HF_TOKEN. The Config type centralizes every knob the
// pipeline, daemon, and CLI need so a single Load call yields sanitized paths,
// canonical log formats, and clear validation errors.
package config
