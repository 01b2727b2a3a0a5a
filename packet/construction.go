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

import "github.com/ZaparooProject/go-spistream/ring"

// ConstructTX builds a complete packet in out, draining up to MaxPayload
// words from src. When src holds fewer words the packet is still produced,
// with the remaining payload slots set to Sentinel; an empty src yields a
// heartbeat packet with length 0.
//
// The number of payload words taken from src is returned. The only failure
// is an out slice shorter than MinWords, in which case src is untouched.
func ConstructTX(id uint32, out []uint32, src *ring.Buffer) (int, error) {
	if len(out) < MinWords {
		return 0, newError("ConstructTX", id, ErrPacketTooShort)
	}

	n := min(src.Len(), MaxPayload(len(out)))
	payload := out[PayloadIndex : PayloadIndex+n]
	if err := src.Consume(payload); err != nil {
		// n never exceeds src.Len()
		return 0, newError("ConstructTX", id, err)
	}

	out[IDIndex] = id
	out[LengthIndex] = uint32(n)
	for i := PayloadIndex + n; i < len(out)-TrailerWords; i++ {
		out[i] = Sentinel
	}
	out[len(out)-1] = Checksum(out)
	return n, nil
}
