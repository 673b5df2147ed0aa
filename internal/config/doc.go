// Package config loads and validates the automator's TOML configuration.
package config
