package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs the global slog logger from the logging section of the
// portal configuration. format "json" selects the JSON handler (the production
// default), anything else the text handler. level is one of debug, info, warn
// or error, case-insensitive, defaulting to info. Source locations are
// attached only at debug level.
//
// Installing the configured logger as the default lets the rest of the code
// call slog.Info/Warn/Error directly without threading a *slog.Logger around.
func SetupLogger(format, level string) {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
