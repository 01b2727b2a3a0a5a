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

// Package spi finds spistream peers on SPI buses. Importing it registers
// the detector with the detection package.
package spi

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	spistream "github.com/ZaparooProject/go-spistream"
	"github.com/ZaparooProject/go-spistream/detection"
	"github.com/ZaparooProject/go-spistream/transport/spi"
)

const transportName = "spi"

// EnvDevice names an SPI port to check before the ones the host registers.
const EnvDevice = "SPISTREAM_SPI_DEVICE"

type detector struct{}

// New creates a new SPI detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return transportName
}

// candidate is an SPI port worth looking at
type candidate struct {
	path   string
	source string
}

// listPortsFn and probeDeviceFn are replaced in tests
var (
	listPortsFn   = spi.ListPorts
	probeDeviceFn = probeDevice
)

// Detect looks at the port named by EnvDevice and every SPI port periph has
// registered. SPI has no presence signal, so passive results are Low
// confidence unless the port was named explicitly.
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	candidates, err := gatherCandidates()
	if err != nil && len(candidates) == 0 {
		return nil, err
	}

	var devices []detection.DeviceInfo
	for _, c := range candidates {
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		if detection.IsPathIgnored(c.path, opts.IgnorePaths) {
			continue
		}
		if device, ok := processCandidate(ctx, c, opts); ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// gatherCandidates returns the environment port first, then the registered
// ones, without duplicates. A registry failure is returned alongside any
// environment candidate.
func gatherCandidates() ([]candidate, error) {
	var candidates []candidate
	seen := make(map[string]bool)
	add := func(path, source string) {
		key := strings.ToLower(path)
		if path == "" || seen[key] {
			return
		}
		seen[key] = true
		candidates = append(candidates, candidate{path: path, source: source})
	}

	add(strings.TrimSpace(os.Getenv(EnvDevice)), "env")

	names, err := listPortsFn()
	for _, name := range names {
		add(name, "registry")
	}
	if err != nil {
		return candidates, fmt.Errorf("failed to enumerate SPI ports: %w", err)
	}
	return candidates, nil
}

func processCandidate(ctx context.Context, c candidate, opts *detection.Options) (detection.DeviceInfo, bool) {
	device := detection.DeviceInfo{
		Transport:  transportName,
		Path:       c.path,
		Name:       fmt.Sprintf("SPI port %s", c.path),
		Confidence: detection.Low,
		Metadata:   map[string]string{"source": c.source},
	}
	if c.source == "env" {
		device.Confidence = detection.Medium
	}

	if opts.Mode == detection.Passive {
		return device, true
	}

	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := probeDeviceFn(probeCtx, c.path, opts); err != nil {
		spistream.Debugf("spi: %s did not answer: %v", c.path, err)
		return detection.DeviceInfo{}, false
	}
	device.Confidence = detection.High
	return device, true
}

func probeDevice(ctx context.Context, path string, opts *detection.Options) error {
	transport, err := spi.New(path)
	if err != nil {
		return err
	}
	return detection.Probe(ctx, transport, opts.Mode, opts.PacketWords)
}
