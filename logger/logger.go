// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package logger holds the process-wide structured logger.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Lifecycle messages. The process manager treats lines carrying these
// messages as benign when it scans the server's error output.
const (
	MsgServerStarted      = "Server started"
	MsgServerStopped      = "Server stopped"
	MsgAcceptedConnection = "Accepted a connection"
	MsgClosingConnection  = "Closing a connection"
)

var globalLogger *zap.Logger

// Init initializes the global logger
func Init(debug bool) error {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	config.Sampling = nil

	if debug {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	logger, err := config.Build()
	if err != nil {
		return err
	}

	globalLogger = logger
	return nil
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if globalLogger == nil {
		// Tests never call Init; keep them quiet.
		return zap.NewNop()
	}
	return globalLogger
}

// Sync flushes buffered entries
func Sync() {
	_ = GetLogger().Sync()
}

// LogMatch logs the outcome of evaluating an intercepted request
func LogMatch(method, uri, expectationID string, matched bool) {
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("uri", uri),
		zap.Bool("matched", matched),
	}

	if matched {
		fields = append(fields, zap.String("expectation_id", expectationID))
		GetLogger().Debug("Expectation matched", fields...)
	} else {
		GetLogger().Info("No matching expectation", fields...)
	}
}

// Info logs an info message with optional fields
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Error logs an error message with optional fields
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// ErrorWithErr logs an error message with an error and optional fields
func ErrorWithErr(msg string, err error, fields ...zap.Field) {
	allFields := make([]zap.Field, 0, len(fields)+1)
	allFields = append(allFields, fields...)
	allFields = append(allFields, zap.Error(err))
	GetLogger().Error(msg, allFields...)
}

// Debug logs a debug message with optional fields
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Warn logs a warning message with optional fields
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

// RecoveryLogger adapts the global logger to gorilla/handlers.RecoveryHandler
type RecoveryLogger struct{}

// Println logs a recovered panic
func (RecoveryLogger) Println(v ...interface{}) {
	GetLogger().Error("Recovered from panic in handler", zap.Any("panic", v))
}
