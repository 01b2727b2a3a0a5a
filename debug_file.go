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
	"bytes"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// sessionLog mirrors every debug line into a file, whether or not console
// debugging is on.
type sessionLog struct {
	file   *os.File
	logger *logrus.Logger
	path   string
}

var (
	session   *sessionLog
	sessionMu sync.Mutex
)

// sessionFormatter writes "15:04:05.000 LEVEL: message key=value" lines
// with fields sorted by key.
type sessionFormatter struct{}

func (sessionFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	_, _ = fmt.Fprintf(&b, "%s %s: %s", entry.Time.Format("15:04:05.000"),
		strings.ToUpper(entry.Level.String()), entry.Message)
	for _, key := range slices.Sorted(maps.Keys(entry.Data)) {
		_, _ = fmt.Fprintf(&b, " %s=%v", key, entry.Data[key])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func newSessionLogger(w io.Writer) *logrus.Logger {
	return &logrus.Logger{
		Out:       w,
		Formatter: sessionFormatter{},
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.DebugLevel,
	}
}

// InitSessionLog starts a session log file in dir, or the working directory
// when dir is empty, replacing any log already open. It returns the path of
// the new file.
func InitSessionLog(dir string) (string, error) {
	name := fmt.Sprintf("spistream_%s.log", time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	file, err := os.Create(path) //nolint:gosec // name is generated here
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}

	started := &sessionLog{file: file, logger: newSessionLogger(file), path: path}
	started.logger.WithFields(logrus.Fields{
		"pid":  os.Getpid(),
		"os":   runtime.GOOS + "/" + runtime.GOARCH,
		"go":   runtime.Version(),
		"args": strings.Join(os.Args, " "),
	}).Info("session started")

	sessionMu.Lock()
	previous := session
	session = started
	sessionMu.Unlock()

	if previous != nil {
		_ = previous.close()
	}
	return path, nil
}

func (s *sessionLog) close() error {
	s.logger.Info("session ended")
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// CloseSessionLog ends the current session log. It is a no-op when none is
// open.
func CloseSessionLog() error {
	sessionMu.Lock()
	current := session
	session = nil
	sessionMu.Unlock()

	if current == nil {
		return nil
	}
	if err := current.close(); err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// GetSessionLogPath returns the path of the open session log, or "".
func GetSessionLogPath() string {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	if session == nil {
		return ""
	}
	return session.path
}

func writeSessionLine(message string) {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	if session != nil {
		session.logger.Debug(message)
	}
}
