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
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Mode represents how much traffic detection may put on a candidate port
type Mode int

const (
	// Passive mode only enumerates ports without any communication
	Passive Mode = iota
	// Safe mode exchanges a single heartbeat packet with the candidate
	Safe
	// Full mode exchanges several heartbeats and requires every reply to verify
	Full
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Safe:
		return "safe"
	case Full:
		return "full"
	default:
		return "unknown"
	}
}

// Confidence represents the confidence level of device detection
type Confidence int

const (
	// Low confidence - the port exists but nothing suggests a peer is attached
	Low Confidence = iota
	// Medium confidence - port metadata matches a known adapter
	Medium
	// High confidence - a peer answered with valid packets
	High
)

// String returns the confidence name
func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// DeviceInfo represents a port that may have a spistream peer behind it
type DeviceInfo struct {
	// Additional metadata (e.g., VID:PID for USB devices)
	Metadata map[string]string
	// Transport type: "uart" or "spi"
	Transport string
	// Connection path (e.g., "/dev/ttyUSB0", "SPI0.0")
	Path string
	// Human-readable device name
	Name string
	// Detection confidence level
	Confidence Confidence
}

// String returns a human-readable representation of the device
func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s device at %s (confidence: %s)", d.Transport, d.Path, d.Confidence)
}

// Options configures the detection behavior
type Options struct {
	// USB VID:PID pairs to skip (e.g., ["1234:5678", "ABCD:EF01"])
	Blocklist []string
	// Device paths to explicitly ignore (e.g., ["/dev/ttyUSB0", "COM2"])
	IgnorePaths []string
	// Which transports to check (empty = all)
	Transports []string
	// Cache TTL duration
	CacheTTL time.Duration
	// Maximum time to wait for detection
	Timeout time.Duration
	// Time allowed for probing one port
	ProbeTimeout time.Duration
	// Packet size the peer is expected to use, in words (0 = default)
	PacketWords int
	// Detection invasiveness level
	Mode Mode
	// Enable result caching
	EnableCache bool
}

// DefaultOptions returns sensible default detection options
func DefaultOptions() Options {
	return Options{
		Mode:         Safe,
		Timeout:      5 * time.Second,
		ProbeTimeout: 2 * time.Second,
		Blocklist:    DefaultBlocklist(),
		EnableCache:  true,
		CacheTTL:     30 * time.Second,
	}
}

// Detector interface for transport-specific device detection
type Detector interface {
	// Detect searches for devices using the given options
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
	// Transport returns the transport type this detector handles
	Transport() string
}

var (
	// ErrNoDevicesFound indicates no candidate ports answered
	ErrNoDevicesFound = errors.New("no spistream peers found")
	// ErrDetectionTimeout indicates detection timed out
	ErrDetectionTimeout = errors.New("detection timeout")
	// ErrNoDetectors indicates no registered detector handles the requested transports
	ErrNoDetectors = errors.New("no detectors available for specified transports")
)

var registry []Detector

// RegisterDetector adds a detector to the registry. Transport packages
// register themselves from init.
func RegisterDetector(d Detector) {
	registry = append(registry, d)
}

func getDetectors(transports []string) []Detector {
	if len(transports) == 0 {
		return registry
	}

	var filtered []Detector
	for _, d := range registry {
		if slices.Contains(transports, d.Transport()) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

type detectionResult struct {
	err     error
	devices []DeviceInfo
}

// DetectAll runs every matching detector in parallel and merges the results.
// Devices are returned even if some detectors failed. When opts.Timeout is
// set it bounds the whole run.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	detectors := getDetectors(opts.Transports)
	if len(detectors) == 0 {
		return nil, ErrNoDetectors
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	results := make(chan detectionResult, len(detectors))
	for _, d := range detectors {
		go func() {
			results <- runSingleDetector(ctx, d, opts)
		}()
	}

	var (
		devices []DeviceInfo
		errs    []error
	)
	for range detectors {
		select {
		case res := <-results:
			if res.err != nil {
				errs = append(errs, res.err)
				continue
			}
			devices = append(devices, res.devices...)
		case <-ctx.Done():
			return nil, ErrDetectionTimeout
		}
	}

	if len(devices) > 0 {
		SortByConfidence(devices)
		return devices, nil
	}
	if ctx.Err() != nil {
		return nil, ErrDetectionTimeout
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, ErrNoDevicesFound
}

func runSingleDetector(ctx context.Context, d Detector, opts *Options) detectionResult {
	key := cacheKey(d.Transport(), opts.Mode)
	if opts.EnableCache {
		if cached, found := detections.get(key, opts.CacheTTL); found {
			// Cached results skipped Detect, so apply the filters again
			return detectionResult{devices: filterDevices(cached, opts)}
		}
	}

	devices, err := d.Detect(ctx, opts)
	if err != nil && !errors.Is(err, ErrNoDevicesFound) {
		return detectionResult{err: fmt.Errorf("%s detection: %w", d.Transport(), err)}
	}

	if opts.EnableCache {
		if len(devices) > 0 {
			detections.set(key, devices)
		} else {
			// A peer that went away must not be offered until the TTL expires
			detections.clear(d.Transport())
		}
	}
	return detectionResult{devices: devices}
}

// filterDevices applies IgnorePaths and Blocklist to a device list.
func filterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	if len(opts.IgnorePaths) == 0 && len(opts.Blocklist) == 0 {
		return devices
	}

	return slices.DeleteFunc(slices.Clone(devices), func(d DeviceInfo) bool {
		if IsPathIgnored(d.Path, opts.IgnorePaths) {
			return true
		}
		vidpid, ok := d.Metadata["vidpid"]
		return ok && IsBlocked(vidpid, opts.Blocklist)
	})
}

// SortByConfidence orders devices from most to least likely, keeping the
// enumeration order among equals.
func SortByConfidence(devices []DeviceInfo) {
	slices.SortStableFunc(devices, func(a, b DeviceInfo) int {
		return int(b.Confidence) - int(a.Confidence)
	})
}

// Best returns the most likely device of the given transport. An empty
// transport matches any.
func Best(devices []DeviceInfo, transport string) (DeviceInfo, bool) {
	var (
		best  DeviceInfo
		found bool
	)
	for _, d := range devices {
		if transport != "" && d.Transport != transport {
			continue
		}
		if !found || d.Confidence > best.Confidence {
			best, found = d, true
		}
	}
	return best, found
}

// ClearDetectionCache removes all cached detection results
func ClearDetectionCache() {
	detections.clearAll()
}

// ClearDetectionCacheForTransport removes cached results for a specific transport
func ClearDetectionCacheForTransport(transport string) {
	detections.clear(transport)
}
