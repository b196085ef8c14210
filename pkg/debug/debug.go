// Package debug gates verbose diagnostic logging by category, so one
// noisy subsystem can be inspected without drowning the process log.
//
//	debug.Log("session", "writing file", "path", path)
//
// SANDPIT_DEBUG selects categories as a comma list ("session,provider",
// or "all"); SANDPIT_LOG_LEVEL sets the process slog level.
package debug

import (
	"log/slog"
	"os"
	"strings"
)

// active holds the enabled categories. Written only by init and Init,
// both before request traffic starts.
var active map[string]struct{}

func init() {
	active = split(os.Getenv("SANDPIT_DEBUG"))
}

// Init applies config-file values for categories and log level, with the
// environment taking precedence, and installs the default slog handler.
func Init(categories, level string) {
	if env := os.Getenv("SANDPIT_DEBUG"); env != "" {
		categories = env
	}
	active = split(categories)

	if env := os.Getenv("SANDPIT_LOG_LEVEL"); env != "" {
		level = env
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: Level(level),
	})))
}

// Enabled reports whether the category emits debug output. Use it to
// guard formatting that is expensive to compute.
func Enabled(category string) bool {
	if _, all := active["all"]; all {
		return true
	}
	_, ok := active[category]
	return ok
}

// Log emits a debug record for the category; a no-op when disabled.
func Log(category, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Level converts a level name to its slog.Level, defaulting to Info.
func Level(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func split(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			set[part] = struct{}{}
		}
	}
	return set
}
