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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/ZaparooProject/go-spistream/detection"
	_ "github.com/ZaparooProject/go-spistream/detection/spi"  // register SPI detector
	_ "github.com/ZaparooProject/go-spistream/detection/uart" // register UART detector
	"github.com/ZaparooProject/go-spistream/internal/config"
)

// detectFunc matches detection.DetectAll.
type detectFunc func(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error)

func detectOptions(cfg *config.Config) detection.Options {
	opts := detection.DefaultOptions()
	opts.Transports = []string{cfg.Transport}
	opts.Mode = detection.Safe
	if cfg.Detect.Mode == config.DetectFull {
		opts.Mode = detection.Full
	}
	opts.IgnorePaths = cfg.Detect.IgnorePaths
	opts.Blocklist = append(opts.Blocklist, cfg.Detect.Blocklist...)
	opts.Timeout = time.Duration(cfg.Detect.TimeoutMs) * time.Millisecond
	opts.PacketWords = cfg.Link.PacketWords
	return opts
}

// resolveDevice fills cfg.Device with the best answering port when none is
// configured. Only a port where a peer answered is accepted.
func resolveDevice(ctx context.Context, cfg *config.Config, detect detectFunc, w io.Writer) error {
	if cfg.Device != "" || cfg.Transport == config.TransportLoopback {
		return nil
	}

	opts := detectOptions(cfg)
	devices, err := detect(ctx, &opts)
	if err != nil {
		return fmt.Errorf("no device configured and %s detection failed: %w", cfg.Transport, err)
	}

	best, ok := detection.Best(devices, cfg.Transport)
	if !ok || best.Confidence < detection.High {
		return fmt.Errorf("no device configured: %w", detection.ErrNoDevicesFound)
	}

	cfg.Device = best.Path
	_, _ = fmt.Fprintf(w, "Detected %s\n", best)
	return nil
}

// listDevices prints candidate ports without talking to them.
func listDevices(ctx context.Context, w io.Writer, detect detectFunc) error {
	opts := detection.DefaultOptions()
	opts.Mode = detection.Passive
	opts.EnableCache = false

	devices, err := detect(ctx, &opts)
	if errors.Is(err, detection.ErrNoDevicesFound) {
		_, _ = fmt.Fprintln(w, "No candidate ports found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list ports: %w", err)
	}

	for _, d := range devices {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Transport, d.Path, d.Confidence, formatMetadata(d.Metadata))
	}
	return nil
}

func formatMetadata(meta map[string]string) string {
	pairs := make([]string, 0, len(meta))
	for _, k := range slices.Sorted(maps.Keys(meta)) {
		pairs = append(pairs, k+"="+meta[k])
	}
	return strings.Join(pairs, " ")
}
