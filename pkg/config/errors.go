package config

import "errors"

var (
	// ErrConfigNotFound is returned when the YAML config file exists but
	// cannot be read. A file that does not exist is not an error: Load falls
	// back to Default().
	ErrConfigNotFound = errors.New("config file not found")
	// ErrInvalidYAML is returned when the config file fails to parse.
	ErrInvalidYAML = errors.New("invalid config YAML")
)
