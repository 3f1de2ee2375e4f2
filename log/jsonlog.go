// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package log

import (
	"fmt"
	"io"
	"log/slog"
)

// JSONlog is a structured JSON logger that satisfies the Logger interface
type JSONlog struct {
	level Level
	log   *slog.Logger
}

// NewJSON returns a new JSONlog type that satisfies the Logger interface
func NewJSON(output io.Writer, level Level) *JSONlog {
	logOpts := slog.HandlerOptions{}
	switch level {
	case LevelDebug:
		logOpts.Level = slog.LevelDebug
	case LevelInfo:
		logOpts.Level = slog.LevelInfo
	case LevelWarn:
		logOpts.Level = slog.LevelWarn
	case LevelError:
		logOpts.Level = slog.LevelError
	default:
		logOpts.Level = slog.LevelDebug
	}
	logHandler := slog.NewJSONHandler(output, &logOpts)
	return &JSONlog{
		level: level,
		log:   slog.New(logHandler),
	}
}

// logJSONMessage annotates the slog record with the dialogue direction and
// emits it at the requested level
func logJSONMessage(l *JSONlog, logData Log, emit func(*slog.Logger, string)) {
	logger := l.log.WithGroup(DirString).With(
		slog.String(DirFromString, logData.directionFrom()),
		slog.String(DirToString, logData.directionTo()),
	)
	emit(logger, fmt.Sprintf(logData.Format, logData.Messages...))
}

// Debugf logs a debug message via the structured JSON logger
func (l *JSONlog) Debugf(log Log) {
	if l.level >= LevelDebug {
		logJSONMessage(l, log, func(lg *slog.Logger, msg string) { lg.Debug(msg) })
	}
}

// Infof logs a info message via the structured JSON logger
func (l *JSONlog) Infof(log Log) {
	if l.level >= LevelInfo {
		logJSONMessage(l, log, func(lg *slog.Logger, msg string) { lg.Info(msg) })
	}
}

// Warnf logs a warn message via the structured JSON logger
func (l *JSONlog) Warnf(log Log) {
	if l.level >= LevelWarn {
		logJSONMessage(l, log, func(lg *slog.Logger, msg string) { lg.Warn(msg) })
	}
}

// Errorf logs an error message via the structured JSON logger
func (l *JSONlog) Errorf(log Log) {
	if l.level >= LevelError {
		logJSONMessage(l, log, func(lg *slog.Logger, msg string) { lg.Error(msg) })
	}
}
