package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment variables read by Load.
const (
	EnvGossipInterval = "BROADCAST_GOSSIP_INTERVAL"
	EnvLogLevel       = "BROADCAST_LOG_LEVEL"
	EnvLogFormat      = "BROADCAST_LOG_FORMAT"
	EnvMetricsAddr    = "BROADCAST_METRICS_ADDR"
	EnvAdminAddr      = "BROADCAST_ADMIN_ADDR"
	EnvMaxLineBytes   = "BROADCAST_MAX_LINE_BYTES"
)

const (
	DefaultGossipInterval = 300 * time.Millisecond
	DefaultMaxLineBytes   = 1 << 20
)

// Config holds the node configuration. Identity and peers are not part of
// it: they arrive with the init handshake.
type Config struct {
	GossipInterval time.Duration
	LogLevel       zapcore.Level
	LogFormat      string // "console" or "json"
	MetricsAddr    string // empty disables the /metrics listener
	AdminAddr      string // empty disables the gRPC admin listener
	MaxLineBytes   int
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		GossipInterval: DefaultGossipInterval,
		LogLevel:       zapcore.InfoLevel,
		LogFormat:      "console",
		MaxLineBytes:   DefaultMaxLineBytes,
	}
}

// Load builds a Config from getenv (normally os.Getenv). Unset or blank
// variables keep their defaults; invalid values are an error.
func Load(getenv func(string) string) (Config, error) {
	cfg := Default()

	if v := strings.TrimSpace(getenv(EnvGossipInterval)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvGossipInterval, v, err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("invalid %s %q: must be positive", EnvGossipInterval, v)
		}
		cfg.GossipInterval = d
	}

	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		lvl, err := zapcore.ParseLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvLogLevel, v, err)
		}
		cfg.LogLevel = lvl
	}

	if v := strings.TrimSpace(getenv(EnvLogFormat)); v != "" {
		switch v {
		case "console", "json":
			cfg.LogFormat = v
		default:
			return Config{}, fmt.Errorf("invalid %s %q (expected console or json)", EnvLogFormat, v)
		}
	}

	cfg.MetricsAddr = strings.TrimSpace(getenv(EnvMetricsAddr))
	cfg.AdminAddr = strings.TrimSpace(getenv(EnvAdminAddr))

	if v := strings.TrimSpace(getenv(EnvMaxLineBytes)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvMaxLineBytes, v, err)
		}
		if n < 1024 {
			return Config{}, fmt.Errorf("invalid %s %q: must be at least 1024", EnvMaxLineBytes, v)
		}
		cfg.MaxLineBytes = n
	}

	return cfg, nil
}

// NewLogger builds the process logger. It always writes to stderr because
// stdout carries the protocol.
func (c Config) NewLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.Development = false
	}
	zc.Level = zap.NewAtomicLevelAt(c.LogLevel)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
