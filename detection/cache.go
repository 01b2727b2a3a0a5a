// go-spistream
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-spistream.
//
// go-spistream is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-spistream is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-spistream; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package detection

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/ZaparooProject/go-spistream/internal/syncutil"
)

// resultCache remembers detection results per transport and mode. A
// Passive scan must never answer for a probing one, so the mode is part of
// the key.
type resultCache struct {
	entries map[string]cacheEntry
	mu      syncutil.RWMutex
}

type cacheEntry struct {
	stored  time.Time
	devices []DeviceInfo
}

var detections = newResultCache()

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[string]cacheEntry)}
}

func cacheKey(transport string, mode Mode) string {
	return fmt.Sprintf("%s/%s", transport, mode)
}

// get returns a copy of the entry stored under key if it is younger than ttl.
func (c *resultCache) get(key string, ttl time.Duration) ([]DeviceInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Since(entry.stored) > ttl {
		return nil, false
	}
	return slices.Clone(entry.devices), true
}

func (c *resultCache) set(key string, devices []DeviceInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		devices: slices.Clone(devices),
		stored:  time.Now(),
	}
}

// clear drops every mode's entry for transport.
func (c *resultCache) clear(transport string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	maps.DeleteFunc(c.entries, func(key string, _ cacheEntry) bool {
		return strings.HasPrefix(key, transport+"/")
	})
}

func (c *resultCache) clearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
}
