// Package config loads, normalizes, and validates the folio daemon
// configuration from TOML.
package config
