// Package logger provides structured logging for the cube builder
package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	mu           sync.Mutex
)

// contextKey is the type for context keys
type contextKey string

const (
	// BuildIDKey is the context key for the id of a running cube build
	BuildIDKey contextKey = "build_id"
	// CubeKey is the context key for the cube name
	CubeKey contextKey = "cube"
	// CuboidKey is the context key for the cuboid id being computed
	CuboidKey contextKey = "cuboid_id"
)

// Config represents logger configuration
type Config struct {
	Level       string
	Development bool
	Encoding    string // json or console
	OutputPaths []string
}

// Init initializes the global logger. The first successful call wins.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if globalLogger != nil {
		return nil
	}
	l, err := New(cfg)
	if err != nil {
		return err
	}
	globalLogger = l
	return nil
}

// New creates a zap logger from cfg without touching the global one.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "json"
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if cfg.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         cfg.Encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	if cfg.Development {
		logger = logger.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return logger, nil
}

// Get returns the global logger
func Get() *zap.Logger {
	mu.Lock()
	l := globalLogger
	mu.Unlock()
	if l != nil {
		return l
	}

	if err := Init(Config{Level: "info", Encoding: "json"}); err != nil {
		fallback, _ := zap.NewProduction()
		mu.Lock()
		globalLogger = fallback
		mu.Unlock()
	}
	mu.Lock()
	defer mu.Unlock()
	return globalLogger
}

// OrDefault returns l, or the global logger when l is nil. Components accept
// an optional logger in their constructors and resolve it through here.
func OrDefault(l *zap.Logger) *zap.Logger {
	if l != nil {
		return l
	}
	return Get()
}

// FromContext decorates base with the build identifiers carried by ctx.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	logger := OrDefault(base)

	if buildID, ok := ctx.Value(BuildIDKey).(string); ok {
		logger = logger.With(zap.String("build_id", buildID))
	}

	if cube, ok := ctx.Value(CubeKey).(string); ok {
		logger = logger.With(zap.String("cube", cube))
	}

	if cuboid, ok := ctx.Value(CuboidKey).(int64); ok {
		logger = logger.With(zap.Int64("cuboid_id", cuboid))
	}

	return logger
}
