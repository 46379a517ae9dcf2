// Package logger builds the process wide slog logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const colorReset = "\033[0m"

var levelColors = []struct {
	token string
	color string
}{
	{"level=DEBUG", "\033[36m"},
	{"level=INFO", "\033[32m"},
	{"level=WARN", "\033[33m"},
	{"level=ERROR", "\033[31m"},
}

// New builds a logger tagged with the app name. Local and dev environments
// get colored text on a terminal; every other environment gets JSON.
func New(appName, level, environment string) *slog.Logger {
	return NewWithWriter(os.Stdout, appName, level, environment)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, appName, level, environment string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: true,
	}

	var handler slog.Handler
	if isDevelopment(environment) {
		handler = newColoredHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With("app", appName)
}

func isDevelopment(environment string) bool {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "local", "dev", "development":
		return true
	}
	return false
}

func parseLevel(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newColoredHandler is a text handler whose level token is wrapped in ANSI
// colors when the destination is a terminal.
func newColoredHandler(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if isTerminal(w) {
		w = colorWriter{w}
	}
	return slog.NewTextHandler(w, opts)
}

type colorWriter struct {
	w io.Writer
}

func (cw colorWriter) Write(p []byte) (int, error) {
	text := string(p)
	for _, lc := range levelColors {
		if strings.Contains(text, lc.token) {
			text = strings.Replace(text, lc.token, lc.color+lc.token+colorReset, 1)
			break
		}
	}
	if _, err := io.WriteString(cw.w, text); err != nil {
		return 0, err
	}
	return len(p), nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := file.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
