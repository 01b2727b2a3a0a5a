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

// Package packet implements the fixed-size word packet used on a spistream
// link: checksumming, building outbound packets from a staging ring buffer,
// and validating inbound packets into one.
//
// Nothing in this package blocks, locks or logs. Every function either
// completes or fails with its inputs unchanged, leaving reporting and retry
// policy to the transport driver.
package packet

// Packet is a view over the words of one wire packet.
type Packet []uint32

// New allocates a zeroed packet of n words.
func New(n int) Packet {
	return make(Packet, n)
}

// ID returns word 0, or 0 for an empty packet.
func (p Packet) ID() uint32 {
	return firstWord(p)
}

// Len returns the raw payload length field, or 0 if the packet is too
// short to carry one.
func (p Packet) Len() uint32 {
	if len(p) <= LengthIndex {
		return 0
	}
	return p[LengthIndex]
}

// Payload returns the valid payload words. It returns nil when the length
// field does not fit the packet, and never indexes out of bounds.
func (p Packet) Payload() []uint32 {
	if len(p) < MinWords || uint64(p.Len()) > uint64(MaxPayload(len(p))) {
		return nil
	}
	return p[PayloadIndex : PayloadIndex+int(p.Len())]
}

// Checksum returns the stored checksum word.
func (p Packet) Checksum() uint32 {
	if len(p) < MinWords {
		return 0
	}
	return p[len(p)-1]
}

// Valid reports whether the packet passes VerifyPacket.
func (p Packet) Valid() bool {
	_, err := VerifyPacket(p)
	return err == nil
}
