// Package config loads node settings from the environment and builds the
// process logger.
package config
