// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package spistream

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger used by the link and transports.
// Any logrus-compatible logger can be plugged in with SetLogger.
type Logger interface {
	Info(...any)
	Debug(...any)
	Warn(...any)
	Error(...any)

	Infof(string, ...any)
	Debugf(string, ...any)
	Warnf(string, ...any)
	Errorf(string, ...any)

	// WithFields returns a child logger that adds fields to every entry.
	WithFields(fields map[string]any) Logger
}

var (
	logger   Logger
	loggerMu sync.Mutex
)

// SetLogger replaces the package logger.
func SetLogger(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}

// GetLogger returns the package logger, building a logrus-backed default
// on first use.
func GetLogger() Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if logger == nil {
		logger = buildDefaultLogger()
	}
	return logger
}

type defaultLogger struct {
	*logrus.Entry
}

func buildDefaultLogger() Logger {
	l := &logrus.Logger{
		Formatter: &logrus.TextFormatter{DisableTimestamp: true},
		Level:     logrus.InfoLevel,
		Out:       os.Stderr,
		Hooks:     make(logrus.LevelHooks),
	}
	if debugEnabled {
		l.SetLevel(logrus.DebugLevel)
	}
	return &defaultLogger{Entry: logrus.NewEntry(l)}
}

// NewLogger adapts a logrus logger to Logger.
func NewLogger(l *logrus.Logger) Logger {
	return &defaultLogger{Entry: logrus.NewEntry(l)}
}

func (d *defaultLogger) WithFields(fields map[string]any) Logger {
	return &defaultLogger{Entry: d.Entry.WithFields(fields)}
}

// setDefaultLevel adjusts the default logger; custom loggers are left to
// their owner.
func setDefaultLevel(level logrus.Level) {
	if lg, ok := GetLogger().(*defaultLogger); ok {
		lg.Logger.SetLevel(level)
	}
}
