// Package log wraps zap behind package-level helpers shared by every
// component.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var sugar *zap.SugaredLogger

func init() {
	// Usable before Init for early startup and tests.
	sugar = zap.NewNop().Sugar()
}

// Init builds the process logger from configuration.
func Init(level, format, outputPath string) {
	var zapConfig zap.Config

	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel)
	}

	if format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.Encoding = "console"
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.Encoding = "json"
	}

	zapConfig.Level = logLevel
	zapConfig.OutputPaths = []string{"stdout"}
	if outputPath != "" {
		_ = os.MkdirAll(outputPath, os.ModePerm)
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, outputPath+"/app.log")
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	sugar = logger.Sugar()
}

// Info logs an info-level message.
func Info(msg string) {
	sugar.Info(msg)
}

// Infof logs a formatted info-level message.
func Infof(template string, args ...interface{}) {
	sugar.Infof(template, args...)
}

// Infow logs a structured info-level message with key/value context.
func Infow(msg string, keysAndValues ...interface{}) {
	sugar.Infow(msg, keysAndValues...)
}

// Debugf logs a formatted debug-level message.
func Debugf(template string, args ...interface{}) {
	sugar.Debugf(template, args...)
}

// Warnf logs a formatted warn-level message.
func Warnf(template string, args ...interface{}) {
	sugar.Warnf(template, args...)
}

// Error logs an error-level message with the underlying error attached.
func Error(msg string, err error) {
	sugar.Errorw(msg, "error", err)
}

// Errorf logs a formatted error-level message.
func Errorf(template string, args ...interface{}) {
	sugar.Errorf(template, args...)
}

// Fatal logs the message and error, then exits.
func Fatal(msg string, err error) {
	sugar.Fatalw(msg, "error", err)
}

// Fatalf logs a formatted fatal-level message, then exits.
func Fatalf(template string, args ...interface{}) {
	sugar.Fatalf(template, args...)
}

// Sync flushes any buffered log entries; call before exit.
func Sync() {
	_ = sugar.Sync()
}
