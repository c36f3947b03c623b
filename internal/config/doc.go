// Package config loads, normalizes, and validates tonearm configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TONEARM_OUTPUT_DIR and TONEARM_FFMPEG_LOCATION. The Config type centralizes
// every knob the job coordinator, engine clients, library scanner, and CLI
// need.
//
// Always obtain settings through this package so downstream code receives
// expanded paths, canonical log formats, and clear validation errors.
package config
