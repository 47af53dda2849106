package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	Logger *zap.Logger
}

var (
	ProductionMode  = "production"
	DevelopmentMode = "development"
)

func New(mode string) *Logger {
	var config zap.Config
	if mode == ProductionMode || mode == "release" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapLogger, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	return &Logger{Logger: zapLogger}
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

type contextKey uint8

const (
	requestIDKey contextKey = iota + 1
	userIDKey
)

// Field names for request scoped values.
const (
	FieldRequestID = "req_id"
	FieldUserID    = "uid"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the request id stored by WithRequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func UserIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// WithContext returns the underlying zap logger enriched with request scoped fields.
func (l *Logger) WithContext(ctx context.Context) *zap.Logger {
	var fields []zap.Field
	if id := RequestIDFrom(ctx); id != "" {
		fields = append(fields, zap.String(FieldRequestID, id))
	}
	if id := UserIDFrom(ctx); id != "" {
		fields = append(fields, zap.String(FieldUserID, id))
	}
	return l.Logger.With(fields...)
}

// Named returns a component logger without the caller skip, for direct zap use.
func (l *Logger) Named(component string) *zap.Logger {
	return l.Logger.WithOptions(zap.AddCallerSkip(-1)).Named(component)
}

var logger *Logger

// SetGlobalLogger stores l and replaces zap's globals so zap.L() follows it.
func SetGlobalLogger(l *Logger) {
	logger = l
	zap.ReplaceGlobals(l.Logger.WithOptions(zap.AddCallerSkip(-1)))
}

func GetGlobalLogger() *Logger {
	return logger
}

func (l *Logger) Infof(template string, args ...interface{}) {
	l.Logger.Sugar().Infof(template, args...)
}

func (l *Logger) Warnf(template string, args ...interface{}) {
	l.Logger.Sugar().Warnf(template, args...)
}

func (l *Logger) Errorf(template string, args ...interface{}) {
	l.Logger.Sugar().Errorf(template, args...)
}

func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}
