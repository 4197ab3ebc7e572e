package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace sits one step below debug. Sources log every applied
// payload and the sampler logs every reading at this level, so at a
// 1ms emitter cadence it is only useful for short captures.
const LevelTrace = slog.Level(-8)

// logLevels maps the log_level config values to slog levels.
var logLevels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"info":    slog.LevelInfo,
	"trace":   LevelTrace,
	"debug":   slog.LevelDebug,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLogLevel resolves the log_level setting. Case and surrounding
// spaces are ignored; empty means info.
func ParseLogLevel(s string) (slog.Level, error) {
	level, ok := logLevels[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("log_level %q not recognized; use trace, debug, info, warn or error", s)
	}
	return level, nil
}

// ReplaceLogLevelNames prints LevelTrace as TRACE rather than slog's
// DEBUG-4. Install it as the handler's ReplaceAttr.
func ReplaceLogLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}
