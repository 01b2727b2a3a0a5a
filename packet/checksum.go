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

import (
	"encoding/binary"
	"hash/adler32"
)

// Checksum computes the Adler-32 checksum of words 0..len(pkt)-2, each
// taken as its 4-byte little-endian image. The last word is never part of
// the input. Packets shorter than MinWords checksum as an empty input.
func Checksum(pkt []uint32) uint32 {
	h := adler32.New()
	if len(pkt) < MinWords {
		return h.Sum32()
	}
	var buf [WordSize]byte
	for _, w := range pkt[:len(pkt)-TrailerWords] {
		binary.LittleEndian.PutUint32(buf[:], w)
		_, _ = h.Write(buf[:])
	}
	return h.Sum32()
}

// AddChecksum stores the checksum of pkt in its last word. No other word
// is modified.
func AddChecksum(pkt []uint32) error {
	if len(pkt) < MinWords {
		return newError("AddChecksum", firstWord(pkt), ErrPacketTooShort)
	}
	pkt[len(pkt)-1] = Checksum(pkt)
	return nil
}

func firstWord(pkt []uint32) uint32 {
	if len(pkt) == 0 {
		return 0
	}
	return pkt[IDIndex]
}
