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
	"strings"

	"github.com/ZaparooProject/go-spistream/packet"
	"github.com/ZaparooProject/go-spistream/ring"
)

// Normalize canonicalizes names and fills zero link settings with the
// library defaults. It must be called only after Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	cfg.Device = strings.TrimSpace(cfg.Device)
	cfg.Detect.Mode = strings.ToLower(strings.TrimSpace(cfg.Detect.Mode))

	if cfg.Link.PacketWords == 0 {
		cfg.Link.PacketWords = packet.DefaultWords
	}
	if cfg.Link.TXCapacity == 0 {
		cfg.Link.TXCapacity = ring.IOBufferSize
	}
	if cfg.Link.RXCapacity == 0 {
		cfg.Link.RXCapacity = ring.IOBufferSize
	}

	// A buffer smaller than one packet payload would stall the link
	payload := packet.MaxPayload(cfg.Link.PacketWords)
	cfg.Link.TXCapacity = max(cfg.Link.TXCapacity, payload)
	cfg.Link.RXCapacity = max(cfg.Link.RXCapacity, payload)
}
