package activities

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/flowforge/engine/internal/execctx"
)

// LogActivity implements the `log` node type: it writes a structured
// message through the shared zap logger instead of appending to an
// application-specific sink.
//
// config fields:
//
//	level:   log level, case-insensitive (default "info"); normalized to
//	         uppercase in the returned output
//	message: fallback message used verbatim when input["message"] is absent
//	         (non-string values are JSON-encoded)
type LogActivity struct {
	logger *zap.Logger
}

// NewLogActivity builds a LogActivity writing through logger. A nil logger
// falls back to zap.NewNop(), which is useful in tests.
func NewLogActivity(logger *zap.Logger) *LogActivity {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogActivity{logger: logger}
}

// Name returns the DSL type identifier for this activity.
func (a *LogActivity) Name() string { return "log" }

// Execute renders the message and emits it at the configured level.
func (a *LogActivity) Execute(input map[string]interface{}, config map[string]interface{}, ctx *execctx.Context) (map[string]interface{}, error) {
	level := "info"
	if v, ok := config["level"].(string); ok && v != "" {
		level = v
	}
	levelUpper := toUpperASCII(level)

	message, err := resolveLogMessage(input, config)
	if err != nil {
		return nil, err
	}

	logger := a.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logFields := []zap.Field{zap.String("level", levelUpper)}
	switch levelUpper {
	case "ERROR":
		logger.Error(message, logFields...)
	case "WARN", "WARNING":
		logger.Warn(message, logFields...)
	case "DEBUG":
		logger.Debug(message, logFields...)
	default:
		logger.Info(message, logFields...)
	}

	return map[string]interface{}{
		"logged":  true,
		"level":   levelUpper,
		"message": message,
	}, nil
}

// resolveLogMessage prefers input["message"], falls back to config["message"],
// and as a last resort serializes the whole input map.
func resolveLogMessage(input map[string]interface{}, config map[string]interface{}) (string, error) {
	if v, ok := input["message"]; ok {
		return stringify(v)
	}
	if v, ok := config["message"]; ok {
		return stringify(v)
	}
	return stringify(input)
}

func stringify(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("log activity: failed to marshal message: %w", err)
	}
	return string(b), nil
}

func toUpperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
