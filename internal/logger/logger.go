package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog.Logger configured for the given component name.
func New(component string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("component", component)
}

// Level selects the log level from the deployment environment and an
// explicit verbose flag. Development environments log at debug.
func Level(environment string, verbose bool) slog.Level {
	if verbose || environment == "development" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
