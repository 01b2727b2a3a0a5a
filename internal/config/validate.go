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

package config

import (
	"fmt"
	"strings"

	"github.com/ZaparooProject/go-spistream/packet"
)

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	transport := strings.ToLower(strings.TrimSpace(cfg.Transport))
	switch transport {
	case TransportSPI, TransportUART, TransportLoopback:
	default:
		return fmt.Errorf(
			"unknown transport %q (want %s, %s or %s)",
			cfg.Transport,
			TransportSPI,
			TransportUART,
			TransportLoopback,
		)
	}

	if cfg.SPI.FrequencyHz <= 0 {
		return fmt.Errorf("spi.frequency_hz must be positive, got %d", cfg.SPI.FrequencyHz)
	}
	if cfg.SPI.Mode < 0 || cfg.SPI.Mode > 3 {
		return fmt.Errorf("spi.mode must be 0-3, got %d", cfg.SPI.Mode)
	}

	if cfg.UART.BaudRate <= 0 {
		return fmt.Errorf("uart.baud_rate must be positive, got %d", cfg.UART.BaudRate)
	}
	if cfg.UART.TimeoutMs < 0 {
		return fmt.Errorf("uart.timeout_ms must not be negative, got %d", cfg.UART.TimeoutMs)
	}

	// zero means library default
	if w := cfg.Link.PacketWords; w != 0 && w < packet.MinWords {
		return fmt.Errorf("link.packet_words must be at least %d, got %d", packet.MinWords, w)
	}
	if cfg.Link.TXCapacity < 0 || cfg.Link.RXCapacity < 0 {
		return fmt.Errorf(
			"link capacities must not be negative, got tx=%d rx=%d",
			cfg.Link.TXCapacity,
			cfg.Link.RXCapacity,
		)
	}

	if cfg.Poll.IntervalMs <= 0 {
		return fmt.Errorf("poll.interval_ms must be positive, got %d", cfg.Poll.IntervalMs)
	}
	if cfg.Poll.MaxConsecutiveErrors < 0 {
		return fmt.Errorf(
			"poll.max_consecutive_errors must not be negative, got %d",
			cfg.Poll.MaxConsecutiveErrors,
		)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Detect.Mode)) {
	case DetectSafe, DetectFull:
	default:
		return fmt.Errorf("detect.mode must be %s or %s, got %q", DetectSafe, DetectFull, cfg.Detect.Mode)
	}
	if cfg.Detect.TimeoutMs <= 0 {
		return fmt.Errorf("detect.timeout_ms must be positive, got %d", cfg.Detect.TimeoutMs)
	}

	return nil
}
