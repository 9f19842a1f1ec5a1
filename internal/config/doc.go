// Package config loads, normalizes, and validates ozonassist configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OZONASSIST_NTFY_TOPIC. The Config type centralizes every knob the daemon and
// CLI need so the database location, attachment directory, and listener
// address are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
