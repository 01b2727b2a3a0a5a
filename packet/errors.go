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
	"errors"
	"fmt"
)

var (
	// ErrChecksumMismatch means the stored checksum does not match the
	// packet contents.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrMalformedLength means the length field exceeds the payload capacity.
	ErrMalformedLength = errors.New("malformed length field")
	// ErrPacketTooShort means the slice cannot hold id, length and checksum.
	ErrPacketTooShort = errors.New("packet too short")
)

// Error attributes a packet failure to the packet id it carried.
type Error struct {
	Err error  // Underlying error
	Op  string // Operation that failed
	ID  uint32 // Packet id (word 0), 0 if the packet had none
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: packet 0x%08X: %v", e.Op, e.ID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, id uint32, err error) *Error {
	return &Error{Op: op, ID: id, Err: err}
}

// IsInvalid reports whether err marks a packet that failed validation, as
// opposed to a valid packet that could not be delivered.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrMalformedLength) ||
		errors.Is(err, ErrPacketTooShort)
}
