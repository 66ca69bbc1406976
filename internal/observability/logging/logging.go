package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	ServiceName string
	Environment string
	Level       string
	// Output defaults to stdout.
	Output io.Writer
}

// Redacted is logged in place of attributes whose key names key material or
// credentials.
const Redacted = "[redacted]"

var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"token":         {},
	"master_key":    {},
	"private_key":   {},
	"root_key":      {},
	"chain_key":     {},
	"message_key":   {},
	"group_key":     {},
	"plaintext":     {},
}

// ParseLevel accepts debug, info, warn and error in any case. An empty string
// is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", s)
}

func NewLogger(cfg Config) *slog.Logger {
	level := new(slog.LevelVar)
	lvl, _ := ParseLevel(cfg.Level)
	level.Set(lvl)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	})

	return slog.New(handler).With(
		slog.String("service", cfg.ServiceName),
		slog.String("env", cfg.Environment),
	)
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, Redacted)
	}
	return a
}
