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
	"fmt"

	"github.com/ZaparooProject/go-spistream/ring"
)

// ReadRX validates pkt and appends its payload to dst.
//
// dst is modified only on success. An invalid packet (see VerifyPacket)
// or a payload larger than dst.Free() is rejected with dst left exactly as
// it was, so the caller can retry the same packet once space is available.
// Overflow errors wrap ring.ErrOverflow.
func ReadRX(pkt []uint32, dst *ring.Buffer) error {
	id, err := VerifyPacket(pkt)
	if err != nil {
		return err
	}

	n := int(pkt[LengthIndex])
	if n > dst.Free() {
		return newError("ReadRX", id,
			fmt.Errorf("payload of %d words with %d free: %w", n, dst.Free(), ring.ErrOverflow))
	}
	if err := dst.Append(pkt[PayloadIndex : PayloadIndex+n]); err != nil {
		return newError("ReadRX", id, err)
	}
	return nil
}
