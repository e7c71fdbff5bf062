// Package monitoring provides the zap logging backend, Prometheus metrics,
// and OpenTelemetry tracing bootstrap for the gateway.
package monitoring

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Largonarco/RateX/internal/config"
	"github.com/Largonarco/RateX/pkg/constants"
	"github.com/Largonarco/RateX/pkg/logger"
)

type zapLogger struct {
	l *zap.Logger
}

// NewZapLogger builds a logger.Logger backed by zap with JSON encoding.
func NewZapLogger(cfg *config.Log) (logger.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)

	return &zapLogger{zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))}, nil
}

func (z *zapLogger) Debug(ctx context.Context, msg string, fields ...logger.Field) {
	z.l.Debug(msg, z.convert(ctx, fields)...)
}

func (z *zapLogger) Info(ctx context.Context, msg string, fields ...logger.Field) {
	z.l.Info(msg, z.convert(ctx, fields)...)
}

func (z *zapLogger) Warn(ctx context.Context, msg string, fields ...logger.Field) {
	z.l.Warn(msg, z.convert(ctx, fields)...)
}

func (z *zapLogger) Error(ctx context.Context, msg string, err error, fields ...logger.Field) {
	if err != nil {
		fields = append(fields, logger.Err(err))
	}
	z.l.Error(msg, z.convert(ctx, fields)...)
}

func (z *zapLogger) Fatal(ctx context.Context, msg string, err error, fields ...logger.Field) {
	if err != nil {
		fields = append(fields, logger.Err(err))
	}
	z.l.Fatal(msg, z.convert(ctx, fields)...)
}

func (z *zapLogger) WithFields(fields ...logger.Field) logger.Logger {
	return &zapLogger{z.l.With(z.convert(context.Background(), fields)...)}
}

func (z *zapLogger) WithComponent(component string) logger.Logger {
	return &zapLogger{z.l.With(zap.String("component", component))}
}

func (z *zapLogger) convert(ctx context.Context, fields []logger.Field) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields)+1)
	if ctx != nil {
		if requestID, ok := ctx.Value(constants.ContextKeyRequestID).(string); ok && requestID != "" {
			zapFields = append(zapFields, zap.String("request_id", requestID))
		}
	}
	for _, f := range fields {
		zapFields = append(zapFields, zap.Any(f.Key, f.Value))
	}
	return zapFields
}
