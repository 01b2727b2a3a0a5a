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

// Package config loads the YAML configuration file of the spistream CLI.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Transport names accepted in the transport field.
const (
	TransportSPI      = "spi"
	TransportUART     = "uart"
	TransportLoopback = "loopback"
)

type Config struct {
	Transport string `yaml:"transport"`
	// Device is the port to open; empty means detect it
	Device     string       `yaml:"device"`
	SPI        SPIConfig    `yaml:"spi"`
	UART       UARTConfig   `yaml:"uart"`
	Link       LinkConfig   `yaml:"link"`
	Poll       PollConfig   `yaml:"poll"`
	Detect     DetectConfig `yaml:"detect"`
	SessionLog string       `yaml:"session_log"`
	Debug      bool         `yaml:"debug"`
}

// ---- TRANSPORTS ----

type SPIConfig struct {
	FrequencyHz int64 `yaml:"frequency_hz"`
	Mode        int   `yaml:"mode"`
}

type UARTConfig struct {
	BaudRate int `yaml:"baud_rate"`
	// TimeoutMs bounds one packet exchange; 0 keeps the transport default
	TimeoutMs int `yaml:"timeout_ms"`
}

// ---- LINK ----

// LinkConfig mirrors spistream.LinkConfig. Zero values take the library
// defaults during Normalize.
type LinkConfig struct {
	PacketWords   int    `yaml:"packet_words"`
	TXCapacity    int    `yaml:"tx_capacity"`
	RXCapacity    int    `yaml:"rx_capacity"`
	FirstPacketID uint32 `yaml:"first_packet_id"`
}

// ---- POLL ----

type PollConfig struct {
	IntervalMs           int `yaml:"interval_ms"`
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`
}

// ---- DETECT ----

// DetectConfig controls how the device is found when none is configured.
type DetectConfig struct {
	// Mode is "safe" or "full"; detection must probe to pick a device
	Mode        string   `yaml:"mode"`
	IgnorePaths []string `yaml:"ignore_paths"`
	// Blocklist adds USB VID:PID pairs to the built-in list
	Blocklist []string `yaml:"blocklist"`
	TimeoutMs int      `yaml:"timeout_ms"`
}

// Detect modes accepted in detect.mode.
const (
	DetectSafe = "safe"
	DetectFull = "full"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Transport: TransportSPI,
		SPI: SPIConfig{
			FrequencyHz: 1_000_000,
		},
		UART: UARTConfig{
			BaudRate: 115200,
		},
		Poll: PollConfig{
			IntervalMs:           10,
			MaxConsecutiveErrors: 10,
		},
		Detect: DetectConfig{
			Mode:      DetectSafe,
			TimeoutMs: 5000,
		},
	}
}

// Load reads a YAML file on top of Default. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r on top of Default. An empty document yields
// the defaults.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return cfg, nil
}
