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

// Package uart finds spistream peers behind serial ports. Importing it
// registers the detector with the detection package.
package uart

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	spistream "github.com/ZaparooProject/go-spistream"
	"github.com/ZaparooProject/go-spistream/detection"
	"github.com/ZaparooProject/go-spistream/transport/uart"
	"go.bug.st/serial/enumerator"
)

const transportName = "uart"

// detector implements the Detector interface for UART devices.
type detector struct{}

// New creates a new UART detector
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

// serialPort is the subset of enumerator metadata detection cares about
type serialPort struct {
	Path         string
	Name         string
	VIDPID       string
	Product      string
	SerialNumber string
	IsUSB        bool
}

// listPortsFn is replaced in tests
var listPortsFn = listPorts

// probeDeviceFn is replaced in tests
var probeDeviceFn = probeDevice

// Detect searches for spistream peers on serial ports
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := listPortsFn()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for i := range ports {
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		if filtered(&ports[i], opts) {
			continue
		}
		if device, ok := d.processPort(ctx, &ports[i], opts); ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func listPorts() ([]serialPort, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	ports := make([]serialPort, 0, len(details))
	for _, d := range details {
		port := serialPort{
			Path:  d.Name,
			Name:  filepath.Base(d.Name),
			IsUSB: d.IsUSB,
		}
		if d.IsUSB {
			port.VIDPID = detection.NormalizeVIDPID(d.VID, d.PID)
			port.Product = d.Product
			port.SerialNumber = d.SerialNumber
		}
		ports = append(ports, port)
	}
	return ports, nil
}

func filtered(port *serialPort, opts *detection.Options) bool {
	if detection.IsPathIgnored(port.Path, opts.IgnorePaths) {
		return true
	}
	return port.VIDPID != "" && detection.IsBlocked(port.VIDPID, opts.Blocklist)
}

// processPort decides what a single port is worth. Passive mode reports
// only ports that look like a USB-serial bridge; probing modes report only
// ports where a peer answered.
func (*detector) processPort(ctx context.Context, port *serialPort,
	opts *detection.Options,
) (detection.DeviceInfo, bool) {
	likely := isLikelyBridge(port)

	device := detection.DeviceInfo{
		Transport:  transportName,
		Path:       port.Path,
		Name:       port.Name,
		Confidence: detection.Low,
		Metadata:   portMetadata(port),
	}
	if likely {
		device.Confidence = detection.Medium
	}

	if opts.Mode == detection.Passive {
		return device, likely
	}

	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := probeDeviceFn(probeCtx, port.Path, opts); err != nil {
		spistream.Debugf("uart: %s did not answer: %v", port.Path, err)
		return detection.DeviceInfo{}, false
	}
	device.Confidence = detection.High
	return device, true
}

func portMetadata(port *serialPort) map[string]string {
	meta := make(map[string]string)
	if port.VIDPID != "" {
		meta["vidpid"] = port.VIDPID
	}
	if port.Product != "" {
		meta["product"] = port.Product
	}
	if port.SerialNumber != "" {
		meta["serial"] = port.SerialNumber
	}
	return meta
}

// knownBridges are USB-serial converters commonly wired to microcontroller
// slaves.
var knownBridges = []string{
	"0403:6001", // FTDI FT232R
	"0403:6014", // FTDI FT232H
	"10C4:EA60", // Silicon Labs CP210x
	"1A86:7523", // QinHeng CH340
	"067B:2303", // Prolific PL2303
	"2E8A:000A", // Raspberry Pi Pico CDC
}

var bridgeNames = []string{"ttyusb", "ttyacm", "usbserial", "usbmodem", "slab_usbtouart"}

func isLikelyBridge(port *serialPort) bool {
	for _, known := range knownBridges {
		if strings.EqualFold(port.VIDPID, known) {
			return true
		}
	}

	name := strings.ToLower(port.Name)
	for _, pattern := range bridgeNames {
		if strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}

// probeDevice opens the port once and exchanges heartbeats. A failed probe
// is not retried: the port may belong to something that is not a peer.
func probeDevice(ctx context.Context, path string, opts *detection.Options) error {
	transport, err := uart.New(path)
	if err != nil {
		return err
	}
	return detection.Probe(ctx, transport, opts.Mode, opts.PacketWords)
}
