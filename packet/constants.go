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

package packet

// Packet geometry. A packet is N words laid out as
//
//	[0]      packet id
//	[1]      payload length L
//	[2..L+1] payload
//	[L+2..N-2] Sentinel padding
//	[N-1]    checksum of words 0..N-2
const (
	DefaultWords = 10 // N used by the link unless configured otherwise
	MinWords     = 3  // id, length and checksum with no payload slots
	HeaderWords  = 2  // id and length
	TrailerWords = 1  // checksum

	IDIndex      = 0
	LengthIndex  = 1
	PayloadIndex = 2
)

// Sentinel fills unused payload slots. It is padding only and never carries
// data when the length field is honored.
const Sentinel uint32 = 0xDEADBEEF

// WordSize is the width of a wire word in bytes.
const WordSize = 4

// MaxPayload returns the number of payload slots in a packet of n words.
func MaxPayload(n int) int {
	if n < MinWords {
		return 0
	}
	return n - HeaderWords - TrailerWords
}
