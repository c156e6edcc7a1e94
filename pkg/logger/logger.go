// Package logger holds the process-wide zap logger and the context keys whose
// values are attached to log lines of a request.
package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	global *zap.Logger
)

type contextKey string

// Context keys read by Fields.
const (
	RequestIDKey contextKey = "request_id"
	TableKey     contextKey = "table"
	JobIDKey     contextKey = "job_id"
)

// Config selects the level, the encoding ("json" or "console") and where log
// lines go. Zero values mean info, json and stderr.
type Config struct {
	Level       string
	Development bool
	Encoding    string
	OutputPaths []string
}

// Init replaces the global logger.
func Init(cfg Config) error {
	l, err := build(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	global = l
	mu.Unlock()
	return nil
}

func build(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		var err error
		if level, err = zapcore.ParseLevel(cfg.Level); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	zc.Encoding = "json"
	if cfg.Encoding != "" {
		zc.Encoding = cfg.Encoding
	}
	zc.OutputPaths = []string{"stderr"}
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.MessageKey = "message"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return l, nil
}

// Get returns the global logger, creating an info-level JSON logger on first
// use.
func Get() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		l, err := build(Config{})
		if err != nil {
			l = zap.NewNop()
		}
		global = l
	}
	return global
}

// Fields returns the request_id, table and job_id values carried by ctx as
// log fields.
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if table, ok := ctx.Value(TableKey).(string); ok {
		fields = append(fields, zap.String("table", table))
	}
	if jobID, ok := ctx.Value(JobIDKey).(string); ok {
		fields = append(fields, zap.String("job_id", jobID))
	}
	return fields
}

// WithContext returns the global logger with the fields of ctx.
func WithContext(ctx context.Context) *zap.Logger {
	return Get().With(Fields(ctx)...)
}

// With returns a child of the global logger.
func With(fields ...zap.Field) *zap.Logger {
	return Get().With(fields...)
}

// Sync flushes the global logger if one was created.
func Sync() error {
	mu.Lock()
	l := global
	mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Sync()
}
