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

package detection

import (
	"context"
	"errors"
	"fmt"

	spistream "github.com/ZaparooProject/go-spistream"
	"github.com/ZaparooProject/go-spistream/packet"
)

// fullProbeExchanges is how many heartbeats a Full probe exchanges.
const fullProbeExchanges = 3

// ErrNoPeer is returned by Probe when the port answered but not with
// valid packets.
var ErrNoPeer = errors.New("no spistream peer answered")

// Probe checks whether a spistream peer sits behind transport by exchanging
// heartbeat packets: one in Safe mode, several in Full mode. Each reply must
// verify. Probe never retries and always closes transport.
//
// Nothing is staged on the probing link, so the peer only ever sees empty
// packets and no user data is lost on either side.
func Probe(ctx context.Context, transport spistream.Transport, mode Mode, packetWords int) error {
	opts := []spistream.Option{spistream.WithRetryConfig(nil)}
	if packetWords > 0 {
		opts = append(opts, spistream.WithPacketWords(packetWords))
	}

	link, err := spistream.NewLink(transport, opts...)
	if err != nil {
		_ = transport.Close()
		return fmt.Errorf("probe: %w", err)
	}
	defer func() { _ = link.Close() }()

	exchanges := 1
	switch mode {
	case Passive:
		return nil
	case Full:
		exchanges = fullProbeExchanges
	}

	for i := range exchanges {
		if err := link.Poll(ctx); err != nil {
			if packet.IsInvalid(err) {
				return fmt.Errorf("%w: exchange %d: %w", ErrNoPeer, i+1, err)
			}
			return fmt.Errorf("probe exchange %d: %w", i+1, err)
		}
	}

	if got := link.Stats().PacketsReceived; got != uint64(exchanges) {
		return fmt.Errorf("%w: %d of %d replies accepted", ErrNoPeer, got, exchanges)
	}
	return nil
}
