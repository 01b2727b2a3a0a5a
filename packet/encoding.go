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
	"fmt"
)

// EncodedSize returns the byte length of n words on the wire.
func EncodedSize(n int) int {
	return n * WordSize
}

// Encode writes the little-endian image of words into dst, which must hold
// EncodedSize(len(words)) bytes. It returns the number of bytes written.
func Encode(dst []byte, words []uint32) (int, error) {
	need := EncodedSize(len(words))
	if len(dst) < need {
		return 0, fmt.Errorf("encode %d words into %d bytes: %w", len(words), len(dst), ErrPacketTooShort)
	}
	for i, w := range words {
		binary.LittleEndian.PutUint32(dst[i*WordSize:], w)
	}
	return need, nil
}

// Decode fills words from the little-endian bytes in src, which must hold
// EncodedSize(len(words)) bytes.
func Decode(words []uint32, src []byte) error {
	if len(src) < EncodedSize(len(words)) {
		return fmt.Errorf("decode %d words from %d bytes: %w", len(words), len(src), ErrPacketTooShort)
	}
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(src[i*WordSize:])
	}
	return nil
}
