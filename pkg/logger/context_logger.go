package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	KeySessionID contextKey = "session_id"
	KeyCallID    contextKey = "call_id"
	KeyUserID    contextKey = "user_id"
)

// New builds the process logger from a level and format ("json" or
// "console").
func New(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return cfg.Build()
}

// ContextLogger enriches log entries with session-scoped identifiers
// carried on the context.
type ContextLogger struct {
	logger *zap.Logger
}

func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext returns a logger carrying any session/call/user ids found
// on the context.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	for _, key := range []contextKey{KeySessionID, KeyCallID, KeyUserID} {
		if v := ctx.Value(key); v != nil {
			if s, ok := v.(string); ok {
				fields = append(fields, zap.String(string(key), s))
			}
		}
	}

	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

func (cl *ContextLogger) Sugar() *zap.SugaredLogger {
	return cl.logger.Sugar()
}

// WithSession stamps a session id onto the context for later extraction.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, KeySessionID, sessionID)
}

// WithCall stamps a call id onto the context.
func WithCall(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, KeyCallID, callID)
}

// WithUser stamps a user id onto the context.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, KeyUserID, userID)
}
