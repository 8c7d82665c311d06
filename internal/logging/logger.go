//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package logging provides per-module leveled loggers built on zap.
//
// Each logger is registered under a module name and can have its level
// adjusted at runtime via [UpdateLogLevels], which accepts strings such
// as "cedarengine.entities:debug;.:info".
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.SugaredLogger with module identification and a
// runtime-adjustable level.
type Logger struct {
	module string
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	level  zapcore.Level
	writer io.Writer
}

const (
	actor     = "actor"
	action    = "action"
	defActor  = "sys"
	defAction = "unk"
	module    = "module"
)

// newLogger creates an unregistered logger.  Callers should use
// [GetLogger], which tracks loggers so levels can be updated later.
func newLogger(module string) *Logger {
	l := &Logger{
		module: module,
		level:  zapcore.InfoLevel,
	}
	l.rebuild(os.Stdout, zapcore.InfoLevel)
	return l
}

// rebuild reconstructs the underlying zap logger for the given sink and
// level.  The encoder is JSON by default; set LOG_FORMATTER=text for a
// console encoder, and LOG_REPORT_CALLER to include caller info.
func (l *Logger) rebuild(output io.Writer, level zapcore.Level) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch os.Getenv("LOG_FORMATTER") {
	case "text":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(output), level)

	options := []zap.Option{
		zap.AddCallerSkip(1),
	}
	if os.Getenv("LOG_REPORT_CALLER") != "" {
		options = append(options, zap.AddCaller())
	}

	l.logger = zap.New(core, options...)
	l.sugar = l.logger.Sugar()
}

// SetLevel adjusts the level for this logger.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.level = level
	out := io.Writer(os.Stdout)
	if l.writer != nil {
		out = l.writer
	}
	l.rebuild(out, level)
}

// GetLevel returns the current level for this logger.
func (l *Logger) GetLevel() zapcore.Level {
	return l.level
}

// IsLevelEnabled reports whether messages at the given level would be
// emitted by this logger.
func (l *Logger) IsLevelEnabled(level zapcore.Level) bool {
	return l.level <= level
}

// IsDebugEnabled returns true if the current logging level is debug or
// finer.  Use it to guard log statements that require significant work
// to render their arguments.
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= zapcore.DebugLevel
}

// IsTraceEnabled returns true if trace logging is active.  zap has no
// distinct trace level; trace maps to debug.
func (l *Logger) IsTraceEnabled() bool {
	return l.level <= zapcore.DebugLevel
}

// Out returns the sink this logger writes to.
func (l *Logger) Out() io.Writer {
	if l.writer != nil {
		return l.writer
	}
	return os.Stdout
}

// SetOut redirects this logger to the given writer.  Intended for tests.
func (l *Logger) SetOut(w io.Writer) {
	l.writer = w
	l.rebuild(w, l.level)
}

func (l *Logger) with(actorID, actionID string) *zap.SugaredLogger {
	return l.sugar.With(
		zap.String(actor, actorID),
		zap.String(action, actionID),
		zap.String(module, l.module),
	)
}

// Trace logs a trace message.  Maps to zap's debug level.
func (l *Logger) Trace(actorID, actionID string, args ...interface{}) {
	l.with(actorID, actionID).Debug(args...)
}

// Tracef logs a formatted trace message.
func (l *Logger) Tracef(actorID, actionID, format string, args ...interface{}) {
	l.with(actorID, actionID).Debugf(format, args...)
}

// Debug logs a debug message.
func (l *Logger) Debug(actorID, actionID string, args ...interface{}) {
	l.with(actorID, actionID).Debug(args...)
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(actorID, actionID, format string, args ...interface{}) {
	l.with(actorID, actionID).Debugf(format, args...)
}

// Info logs an info message.
func (l *Logger) Info(actorID, actionID string, args ...interface{}) {
	l.with(actorID, actionID).Info(args...)
}

// Infof logs a formatted info message.
func (l *Logger) Infof(actorID, actionID, format string, args ...interface{}) {
	l.with(actorID, actionID).Infof(format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(actorID, actionID string, args ...interface{}) {
	l.with(actorID, actionID).Warn(args...)
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(actorID, actionID, format string, args ...interface{}) {
	l.with(actorID, actionID).Warnf(format, args...)
}

// Error logs an error message.
func (l *Logger) Error(actorID, actionID string, args ...interface{}) {
	l.with(actorID, actionID).Error(args...)
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(actorID, actionID, format string, args ...interface{}) {
	l.with(actorID, actionID).Errorf(format, args...)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(actorID, actionID string, args ...interface{}) {
	l.with(actorID, actionID).Fatal(args...)
}

// Fatalf logs a formatted fatal message and exits.
func (l *Logger) Fatalf(actorID, actionID, format string, args ...interface{}) {
	l.with(actorID, actionID).Fatalf(format, args...)
}

// SysDebug logs a debug message with default actor/action attribution.
func (l *Logger) SysDebug(args ...interface{}) {
	l.with(defActor, defAction).Debug(args...)
}

// SysDebugf logs a formatted debug message with default attribution.
func (l *Logger) SysDebugf(format string, args ...interface{}) {
	l.with(defActor, defAction).Debugf(format, args...)
}

// SysInfof logs a formatted info message with default attribution.
func (l *Logger) SysInfof(format string, args ...interface{}) {
	l.with(defActor, defAction).Infof(format, args...)
}

// SysWarnf logs a formatted warning message with default attribution.
func (l *Logger) SysWarnf(format string, args ...interface{}) {
	l.with(defActor, defAction).Warnf(format, args...)
}

// SysErrorf logs a formatted error message with default attribution.
func (l *Logger) SysErrorf(format string, args ...interface{}) {
	l.with(defActor, defAction).Errorf(format, args...)
}
