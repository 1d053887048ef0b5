package main

import (
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/runvault/pkg/runvault/config"
	"github.com/jamesainslie/runvault/pkg/runvault/logging"
)

// parseRotationConfig converts the string-typed rotation settings from the
// config file into the byte-typed settings the log writer wants. An empty or
// unparseable max_size falls back to the writer's default.
func parseRotationConfig(rc config.RotationConfig) logging.RotationConfig {
	out := logging.RotationConfig{
		MaxAge:     rc.MaxAge,
		MaxBackups: rc.MaxBackups,
		Daily:      rc.Daily,
	}

	if rc.MaxSize != "" {
		if n, err := humanize.ParseBytes(rc.MaxSize); err == nil {
			out.MaxSize = int64(n)
		}
	}
	if out.MaxSize == 0 {
		out.MaxSize = logging.DefaultRotationConfig().MaxSize
	}

	return out
}

// initLogging initializes the logging system from the loaded configuration.
// consoleLevel, when non-empty, additionally echoes logs to stderr.
func initLogging(cfg *config.Config, consoleLevel string) error {
	return logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Path:         cfg.Logging.Path,
		Rotation:     parseRotationConfig(cfg.Logging.Rotation),
		Components:   cfg.Logging.Components,
		ConsoleLevel: consoleLevel,
	})
}
