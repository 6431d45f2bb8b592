//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	defer SetLevel(LevelInfo)
	cases := []struct {
		in   string
		want zapcore.Level
	}{
		{LevelDebug, zapcore.DebugLevel},
		{LevelInfo, zapcore.InfoLevel},
		{LevelWarn, zapcore.WarnLevel},
		{LevelError, zapcore.ErrorLevel},
		{LevelFatal, zapcore.FatalLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, c := range cases {
		SetLevel(c.in)
		require.Equal(t, c.want, zapLevel.Level(), c.in)
	}
}

func TestNewFollowsLevel(t *testing.T) {
	defer SetLevel(LevelInfo)
	var buf bytes.Buffer
	l := New(&buf)

	SetLevel(LevelWarn)
	l.Infof("hidden %d", 1)
	require.Empty(t, buf.String())

	l.Warnf("shown %d", 2)
	require.Contains(t, buf.String(), "shown 2")
	require.Contains(t, buf.String(), "WARN")
}

func TestPackageFuncsUseDefault(t *testing.T) {
	old := Default
	defer func() { Default = old }()
	rec := &recordLogger{}
	Default = rec

	Debugf("a %s", "b")
	Warn("c")
	Errorf("d")
	require.Equal(t, []string{"a %s", "c", "d"}, rec.lines)
}

type recordLogger struct {
	lines []string
}

func (r *recordLogger) Debug(args ...any)                 { r.lines = append(r.lines, args[0].(string)) }
func (r *recordLogger) Debugf(format string, args ...any) { r.lines = append(r.lines, format) }
func (r *recordLogger) Info(args ...any)                  { r.lines = append(r.lines, args[0].(string)) }
func (r *recordLogger) Infof(format string, args ...any)  { r.lines = append(r.lines, format) }
func (r *recordLogger) Warn(args ...any)                  { r.lines = append(r.lines, args[0].(string)) }
func (r *recordLogger) Warnf(format string, args ...any)  { r.lines = append(r.lines, format) }
func (r *recordLogger) Error(args ...any)                 { r.lines = append(r.lines, args[0].(string)) }
func (r *recordLogger) Errorf(format string, args ...any) { r.lines = append(r.lines, format) }
func (r *recordLogger) Fatal(args ...any)                 {}
func (r *recordLogger) Fatalf(format string, args ...any) {}
