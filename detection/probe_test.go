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
	"testing"

	spistream "github.com/ZaparooProject/go-spistream"
	testutil "github.com/ZaparooProject/go-spistream/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func peerTransport(peer *testutil.VirtualPeer) *spistream.MockTransport {
	mock := spistream.NewMockTransport()
	mock.SetResponder(peer.Respond)
	return mock
}

func TestProbe_AnsweringPeer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mode      Mode
		exchanges int
	}{
		{name: "passive sends nothing", mode: Passive, exchanges: 0},
		{name: "safe sends one heartbeat", mode: Safe, exchanges: 1},
		{name: "full sends several", mode: Full, exchanges: fullProbeExchanges},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			peer := testutil.NewVirtualPeer(testutil.DefaultPeerConfig())
			mock := peerTransport(peer)

			require.NoError(t, Probe(context.Background(), mock, tt.mode, 0))
			assert.Equal(t, tt.exchanges, mock.GetCallCount())
			assert.False(t, mock.IsConnected(), "probe closes the transport")
			assert.Zero(t, peer.Stats().Rejected, "peer only saw valid heartbeats")
		})
	}
}

func TestProbe_SilentPort(t *testing.T) {
	t.Parallel()

	mock := spistream.NewMockTransport()
	err := Probe(context.Background(), mock, Safe, 0)
	require.ErrorIs(t, err, ErrNoPeer)
	require.ErrorIs(t, err, spistream.ErrChecksumMismatch)
	assert.False(t, mock.IsConnected())
}

func TestProbe_PacketSizeMismatch(t *testing.T) {
	t.Parallel()

	mock := peerTransport(testutil.NewVirtualPeer(testutil.DefaultPeerConfig()))
	require.ErrorIs(t, Probe(context.Background(), mock, Safe, 16), ErrNoPeer)
}

func TestProbe_FullCatchesLateCorruption(t *testing.T) {
	t.Parallel()

	lateFailure := func() *spistream.MockTransport {
		peer := testutil.NewVirtualPeer(testutil.DefaultPeerConfig())
		mock := spistream.NewMockTransport()
		calls := 0
		mock.SetResponder(func(tx []uint32) []uint32 {
			calls++
			if calls == fullProbeExchanges {
				return make([]uint32, len(tx))
			}
			return peer.Respond(tx)
		})
		return mock
	}

	require.NoError(t, Probe(context.Background(), lateFailure(), Safe, 0))

	err := Probe(context.Background(), lateFailure(), Full, 0)
	require.ErrorIs(t, err, ErrNoPeer)
	assert.Contains(t, err.Error(), "exchange 3")
}

func TestProbe_TransportError(t *testing.T) {
	t.Parallel()

	boom := errors.New("input/output error")
	mock := spistream.NewMockTransport()
	mock.QueueError(boom)

	err := Probe(context.Background(), mock, Safe, 0)
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNoPeer)
	assert.Equal(t, 1, mock.GetCallCount(), "no retries")
}

func TestProbe_InvalidPacketWords(t *testing.T) {
	t.Parallel()

	mock := spistream.NewMockTransport()
	require.ErrorIs(t, Probe(context.Background(), mock, Safe, 2), spistream.ErrInvalidParameter)
	assert.False(t, mock.IsConnected())
}
