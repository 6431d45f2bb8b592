//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package log provides the structured logger used by the runtime.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log level names accepted by SetLevel.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelFatal = "fatal"
)

var zapLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

var encoderConfig = zapcore.EncoderConfig{
	TimeKey:        "ts",
	LevelKey:       "lvl",
	NameKey:        "name",
	CallerKey:      "caller",
	MessageKey:     "message",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.CapitalLevelEncoder,
	EncodeTime:     zapcore.RFC3339TimeEncoder,
	EncodeDuration: zapcore.SecondsDurationEncoder,
	EncodeCaller:   zapcore.ShortCallerEncoder,
}

// Default is the logger used by the package level functions.
// Replace it with any implementation of Logger.
var Default Logger = New(os.Stdout)

// New builds a zap sugared logger writing console-encoded lines to w.
// Its level follows SetLevel.
func New(w io.Writer) Logger {
	return zap.New(
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(w),
			zapLevel,
		),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	).Sugar()
}

// SetLevel sets the level of loggers built by New.
// Unknown names fall back to info.
func SetLevel(level string) {
	switch level {
	case LevelDebug:
		zapLevel.SetLevel(zapcore.DebugLevel)
	case LevelWarn:
		zapLevel.SetLevel(zapcore.WarnLevel)
	case LevelError:
		zapLevel.SetLevel(zapcore.ErrorLevel)
	case LevelFatal:
		zapLevel.SetLevel(zapcore.FatalLevel)
	default:
		zapLevel.SetLevel(zapcore.InfoLevel)
	}
}

// Logger is the logging contract of the runtime.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}

// Debug logs to DEBUG log. Arguments are handled in the manner of fmt.Print.
func Debug(args ...any) { Default.Debug(args...) }

// Debugf logs to DEBUG log. Arguments are handled in the manner of fmt.Printf.
func Debugf(format string, args ...any) { Default.Debugf(format, args...) }

// Info logs to INFO log. Arguments are handled in the manner of fmt.Print.
func Info(args ...any) { Default.Info(args...) }

// Infof logs to INFO log. Arguments are handled in the manner of fmt.Printf.
func Infof(format string, args ...any) { Default.Infof(format, args...) }

// Warn logs to WARN log. Arguments are handled in the manner of fmt.Print.
func Warn(args ...any) { Default.Warn(args...) }

// Warnf logs to WARN log. Arguments are handled in the manner of fmt.Printf.
func Warnf(format string, args ...any) { Default.Warnf(format, args...) }

// Error logs to ERROR log. Arguments are handled in the manner of fmt.Print.
func Error(args ...any) { Default.Error(args...) }

// Errorf logs to ERROR log. Arguments are handled in the manner of fmt.Printf.
func Errorf(format string, args ...any) { Default.Errorf(format, args...) }

// Fatal logs to FATAL log and exits.
func Fatal(args ...any) { Default.Fatal(args...) }

// Fatalf logs to FATAL log and exits.
func Fatalf(format string, args ...any) { Default.Fatalf(format, args...) }
