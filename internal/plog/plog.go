// Package plog constructs the zap logger shared across the proxy,
// following the teacher's convention of one root *zap.Logger handed out
// via .Named() sub-loggers per subsystem (modules/caddyhttp/app.go).
package plog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/ssh/terminal"
)

// New builds a *zap.Logger. When stderr is a terminal — detected with
// terminal.IsTerminal, the same check the teacher uses in
// caddyauth/command.go before prompting for a password interactively — it
// uses zap's human-readable console encoder with color; otherwise it
// emits structured JSON, suitable for log aggregation.
func New(debug bool) (*zap.Logger, error) {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	if terminal.IsTerminal(int(os.Stderr.Fd())) {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(cfg),
			zapcore.AddSync(os.Stderr),
			level,
		)
		return zap.New(core), nil
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}
