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
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// debugEnabled controls whether debug logging is active
var debugEnabled = false

func init() {
	if os.Getenv("SPISTREAM_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
}

// Debugf logs debug information.
// Always writes to the session log file (if initialized) with a timestamp.
// Only reaches the console logger when debug mode is enabled.
func Debugf(format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	writeSessionLine(message)
	if debugEnabled {
		GetLogger().Debug(message)
	}
}

// Debugln logs debug information, formatting args like fmt.Sprint.
func Debugln(args ...any) {
	message := fmt.Sprint(args...)
	writeSessionLine(message)
	if debugEnabled {
		GetLogger().Debug(message)
	}
}

// SetDebugEnabled allows programmatic control of debug logging
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
	if enabled {
		setDefaultLevel(logrus.DebugLevel)
	} else {
		setDefaultLevel(logrus.InfoLevel)
	}
}

// IsDebugEnabled reports whether debug logging is active
func IsDebugEnabled() bool {
	return debugEnabled
}
