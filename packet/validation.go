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

// Verify recomputes the checksum of pkt and compares it with the stored
// one. The packet id is returned whatever the outcome so a failure can be
// attributed. pkt is never modified.
func Verify(pkt []uint32) (id uint32, ok bool) {
	id = firstWord(pkt)
	if len(pkt) < MinWords {
		return id, false
	}
	return id, Checksum(pkt) == pkt[len(pkt)-1]
}

// VerifyPacket validates a received or freshly built packet. It returns the
// packet id and nil when the packet is valid. Checks run in order: slice
// length, checksum, then length field, so a corrupted packet reports
// ErrChecksumMismatch even when its length word is also out of range.
func VerifyPacket(pkt []uint32) (uint32, error) {
	if len(pkt) < MinWords {
		return firstWord(pkt), newError("VerifyPacket", firstWord(pkt), ErrPacketTooShort)
	}
	id, ok := Verify(pkt)
	if !ok {
		return id, newError("VerifyPacket", id, ErrChecksumMismatch)
	}
	if uint64(pkt[LengthIndex]) > uint64(MaxPayload(len(pkt))) {
		return id, newError("VerifyPacket", id, ErrMalformedLength)
	}
	return id, nil
}
