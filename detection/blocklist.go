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

package detection

import (
	"path/filepath"
	"slices"
	"strings"
)

// DefaultBlocklist returns USB VID:PID pairs that are never probed. Probing
// writes a full packet to the port, which some devices do not tolerate.
func DefaultBlocklist() []string {
	return []string{
		"2341:0043", // Arduino Uno, resets on open
		"1366:0105", // SEGGER J-Link CDC
	}
}

// NormalizeVIDPID joins a USB vendor and product id into the upper-case
// "VVVV:PPPP" form used by blocklists. It returns "" if either part is
// missing.
func NormalizeVIDPID(vid, pid string) string {
	vid = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(vid)), "0X")
	pid = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(pid)), "0X")
	if vid == "" || pid == "" {
		return ""
	}
	return vid + ":" + pid
}

// IsBlocked reports whether vidpid appears in blocklist, ignoring case and
// surrounding whitespace.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.TrimSpace(vidpid)
	if vidpid == "" {
		return false
	}
	return slices.ContainsFunc(blocklist, func(blocked string) bool {
		return strings.EqualFold(strings.TrimSpace(blocked), vidpid)
	})
}

// IsPathIgnored checks if a device path should be ignored. Paths are
// cleaned and compared case-insensitively so "COM2" matches "com2".
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" {
		return false
	}

	device := normalizedPath(devicePath)
	return slices.ContainsFunc(ignorePaths, func(ignored string) bool {
		return ignored != "" && normalizedPath(ignored) == device
	})
}

func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
