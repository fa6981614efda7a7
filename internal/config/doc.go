// Package config provides configuration loading and validation for the
// transcription service. It reads a YAML file on top of built-in defaults,
// applies VTD_* environment overrides and validates every section.
package config
