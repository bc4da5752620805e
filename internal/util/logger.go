package util

import (
	"context"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	constants "github.com/CodeAndHammer/sketchword/internal/constants"
)

var sugar atomic.Pointer[zap.SugaredLogger]

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewNop()
	}
	sugar.Store(l.Sugar())
}

// InitLogger replaces the package logger. Console output is always enabled;
// when file is non-empty a rotating JSON log is written there as well.
func InitLogger(level, file string, production bool) error {
	lvl := zap.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return err
		}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var consoleEncoder zapcore.Encoder
	if production {
		consoleEncoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		consoleEncoder = zapcore.NewConsoleEncoder(encoderConfig)
	}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), lvl),
	}
	if file != "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   file,
				MaxSize:    100,
				MaxBackups: 5,
				MaxAge:     30,
				Compress:   true,
			}),
			lvl,
		))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zap.ErrorLevel))
	sugar.Store(l.Sugar())
	return nil
}

func SyncLogger() {
	_ = sugar.Load().Sync()
}

func LogInfo(format string, v ...any) {
	sugar.Load().Infof(format, v...)
}

func LogWarn(format string, v ...any) {
	sugar.Load().Warnf(format, v...)
}

func LogError(format string, v ...any) {
	sugar.Load().Errorf(format, v...)
}

func LogFatal(format string, v ...any) {
	sugar.Load().Fatalf(format, v...)
}

// The Ctx variants prefix the message with the request id carried by ctx.

func LogInfoCtx(ctx context.Context, format string, v ...any) {
	sugar.Load().Infof(withRequestID(ctx, format), v...)
}

func LogWarnCtx(ctx context.Context, format string, v ...any) {
	sugar.Load().Warnf(withRequestID(ctx, format), v...)
}

func LogErrorCtx(ctx context.Context, format string, v ...any) {
	sugar.Load().Errorf(withRequestID(ctx, format), v...)
}

func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	reqID, _ := ctx.Value(constants.RequestIDKey).(string)
	return reqID
}

func withRequestID(ctx context.Context, format string) string {
	if reqID := RequestID(ctx); reqID != "" {
		return "[request_id=" + reqID + "] " + format
	}
	return format
}
