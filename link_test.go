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

package spistream

import (
	"context"
	"sync"
	"testing"

	testutil "github.com/ZaparooProject/go-spistream/internal/testing"
	"github.com/ZaparooProject/go-spistream/packet"
	"github.com/ZaparooProject/go-spistream/ring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// peerPacket builds a valid packet the way the slave would.
func peerPacket(t *testing.T, id uint32, payload ...uint32) []uint32 {
	t.Helper()
	src := ring.New(packet.DefaultWords)
	require.NoError(t, src.Append(payload))
	out := make([]uint32, packet.DefaultWords)
	_, err := packet.ConstructTX(id, out, src)
	require.NoError(t, err)
	return out
}

// newTestLink returns a link without the retry wrapper, answering every
// exchange with a peer heartbeat unless a response is queued.
func newTestLink(t *testing.T, opts ...Option) (*Link, *MockTransport) {
	t.Helper()
	mock := NewMockTransport()
	heartbeat := peerPacket(t, 0x5000)
	mock.SetResponder(func([]uint32) []uint32 { return heartbeat })

	link, err := NewLink(mock, append([]Option{WithRetryConfig(nil)}, opts...)...)
	require.NoError(t, err)
	return link, mock
}

func TestNewLink_Defaults(t *testing.T) {
	t.Parallel()

	link, err := NewLink(NewMockTransport())
	require.NoError(t, err)

	cfg := link.Config()
	assert.Equal(t, packet.DefaultWords, cfg.PacketWords)
	assert.Equal(t, ring.IOBufferSize, cfg.TXCapacity)
	assert.Equal(t, ring.IOBufferSize, cfg.RXCapacity)
	assert.NotNil(t, cfg.RetryConfig)
	assert.Equal(t, ring.IOBufferSize, link.WriteSpace())
}

func TestNewLink_InvalidOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []Option
	}{
		{name: "packet too small", opts: []Option{WithPacketWords(2)}},
		{name: "zero tx capacity", opts: []Option{WithBufferCapacity(0, 8)}},
		{name: "zero rx capacity", opts: []Option{WithBufferCapacity(8, 0)}},
		{name: "nil config", opts: []Option{WithLinkConfig(nil)}},
		{name: "bad config", opts: []Option{WithLinkConfig(&LinkConfig{PacketWords: 1, TXCapacity: 1, RXCapacity: 1})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewLink(NewMockTransport(), tt.opts...)
			require.ErrorIs(t, err, ErrInvalidParameter)
		})
	}

	_, err := NewLink(nil)
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestLink_WriteIsAtomic(t *testing.T) {
	t.Parallel()

	link, _ := newTestLink(t, WithBufferCapacity(8, 8))
	require.NoError(t, link.Write([]uint32{1, 2, 3, 4, 5}))

	err := link.Write([]uint32{6, 7, 8, 9})
	require.ErrorIs(t, err, ErrBufferOverflow)
	assert.Equal(t, 5, link.Pending())
	assert.Equal(t, 3, link.WriteSpace())
}

func TestLink_PollSendsStagedWords(t *testing.T) {
	t.Parallel()

	link, mock := newTestLink(t, WithFirstPacketID(0xBEEF))
	require.NoError(t, link.Write([]uint32{1, 2, 3}))

	require.NoError(t, link.Poll(context.Background()))

	sent := mock.Sent()
	require.Len(t, sent, 1)
	pkt := packet.Packet(sent[0])
	assert.True(t, pkt.Valid())
	assert.Equal(t, uint32(0xBEEF), pkt.ID())
	assert.Equal(t, []uint32{1, 2, 3}, pkt.Payload())
	assert.Equal(t, packet.Sentinel, sent[0][5])
	assert.Equal(t, 0, link.Pending())

	stats := link.Stats()
	assert.Equal(t, uint64(1), stats.PacketsSent)
	assert.Equal(t, uint64(3), stats.WordsSent)
	assert.Equal(t, uint64(0), stats.Heartbeats)
}

func TestLink_PollSplitsLargeWrites(t *testing.T) {
	t.Parallel()

	link, mock := newTestLink(t)
	words := make([]uint32, 15)
	for i := range words {
		words[i] = uint32(i)
	}
	require.NoError(t, link.Write(words))

	ctx := context.Background()
	require.NoError(t, link.Poll(ctx))
	require.NoError(t, link.Poll(ctx))
	require.NoError(t, link.Poll(ctx))

	var got []uint32
	for i, raw := range mock.Sent() {
		pkt := packet.Packet(raw)
		assert.Equal(t, uint32(i), pkt.ID(), "ids increment per packet")
		got = append(got, pkt.Payload()...)
	}
	assert.Equal(t, words, got)
}

func TestLink_PollSendsHeartbeatWhenIdle(t *testing.T) {
	t.Parallel()

	link, mock := newTestLink(t)
	require.NoError(t, link.Poll(context.Background()))

	pkt := packet.Packet(mock.Sent()[0])
	assert.True(t, pkt.Valid())
	assert.Equal(t, uint32(0), pkt.Len())
	assert.Equal(t, uint64(1), link.Stats().Heartbeats)
}

func TestLink_PollDeliversPeerPayload(t *testing.T) {
	t.Parallel()

	link, mock := newTestLink(t)
	mock.QueueResponse(peerPacket(t, 0x77, 10, 20, 30))

	require.NoError(t, link.Poll(context.Background()))
	assert.Equal(t, 3, link.Buffered())

	dst := make([]uint32, 8)
	n := link.Read(dst)
	assert.Equal(t, []uint32{10, 20, 30}, dst[:n])

	stats := link.Stats()
	assert.Equal(t, uint64(1), stats.PacketsReceived)
	assert.Equal(t, uint64(3), stats.WordsReceived)
	assert.Equal(t, uint32(0x77), stats.LastPeerID)
}

func TestLink_PollRejectsCorruptPacket(t *testing.T) {
	t.Parallel()

	link, mock := newTestLink(t)
	bad := peerPacket(t, 0x10, 1, 2)
	bad[2] ^= 0x1
	mock.QueueResponse(bad)

	err := link.Poll(context.Background())
	require.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Equal(t, 0, link.Buffered())
	assert.Equal(t, uint64(1), link.Stats().ChecksumErrors)

	require.NoError(t, link.Poll(context.Background()), "link recovers on next packet")
}

func TestLink_PollRejectsMalformedLength(t *testing.T) {
	t.Parallel()

	link, mock := newTestLink(t)
	bad := peerPacket(t, 0x10)
	bad[packet.LengthIndex] = 9
	require.NoError(t, packet.AddChecksum(bad))
	mock.QueueResponse(bad)

	err := link.Poll(context.Background())
	require.ErrorIs(t, err, ErrMalformedLength)
	assert.Equal(t, uint64(1), link.Stats().MalformedPackets)
}

func TestLink_ResendsPacketAfterTransportError(t *testing.T) {
	t.Parallel()

	link, mock := newTestLink(t, WithFirstPacketID(40))
	require.NoError(t, link.Write([]uint32{7, 8}))

	mock.QueueError(NewTransportReadError("Exchange", "mock"))
	err := link.Poll(context.Background())
	require.ErrorIs(t, err, ErrTransportRead)
	assert.Equal(t, uint64(1), link.Stats().TransportErrors)
	assert.Equal(t, uint64(0), link.Stats().PacketsSent)

	require.NoError(t, link.Poll(context.Background()))
	require.NoError(t, link.Poll(context.Background()))

	sent := mock.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, sent[0], sent[1], "failed packet resent unchanged")
	assert.Equal(t, uint32(41), packet.Packet(sent[2]).ID())
	assert.Equal(t, uint32(0), packet.Packet(sent[2]).Len())
}

func TestLink_RetryWrapperRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	heartbeat := peerPacket(t, 1)
	mock.SetResponder(func([]uint32) []uint32 { return heartbeat })
	mock.QueueError(NewTimeoutError("Exchange", "mock"))

	link, err := NewLink(mock)
	require.NoError(t, err)

	require.NoError(t, link.Poll(context.Background()))
	assert.Equal(t, 2, mock.GetCallCount())
	assert.Equal(t, uint64(0), link.Stats().TransportErrors)
}

func TestLink_ParksPacketOnRXOverflow(t *testing.T) {
	t.Parallel()

	link, mock := newTestLink(t, WithBufferCapacity(16, 8))
	mock.QueueResponse(peerPacket(t, 1, 1, 2, 3, 4, 5))
	mock.QueueResponse(peerPacket(t, 2, 6, 7, 8, 9, 10))

	ctx := context.Background()
	require.NoError(t, link.Poll(ctx))
	require.NoError(t, link.Poll(ctx))
	assert.Equal(t, 5, link.Buffered())
	assert.Equal(t, uint64(1), link.Stats().Overflows)

	dst := make([]uint32, 4)
	assert.Equal(t, 4, link.Read(dst))
	assert.Equal(t, 6, link.Buffered(), "parked packet delivered once space frees")

	rest := make([]uint32, 16)
	n := link.Read(rest)
	assert.Equal(t, []uint32{5, 6, 7, 8, 9, 10}, rest[:n])
	assert.Equal(t, uint64(2), link.Stats().PacketsReceived)
}

func TestLink_DropsPacketWhileParked(t *testing.T) {
	t.Parallel()

	link, mock := newTestLink(t, WithBufferCapacity(16, 6))
	mock.QueueResponse(peerPacket(t, 1, 1, 2, 3, 4))
	mock.QueueResponse(peerPacket(t, 2, 5, 6, 7))
	mock.QueueResponse(peerPacket(t, 3, 8))
	mock.QueueResponse(peerPacket(t, 4))

	ctx := context.Background()
	require.NoError(t, link.Poll(ctx))
	require.NoError(t, link.Poll(ctx), "second packet parked")

	err := link.Poll(ctx)
	require.ErrorIs(t, err, ErrPacketDropped)

	require.NoError(t, link.Poll(ctx), "heartbeat accepted while parked")

	stats := link.Stats()
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, uint64(1), stats.Overflows)

	all := make([]uint32, 16)
	n := link.Read(all)
	assert.Equal(t, []uint32{1, 2, 3, 4}, all[:n])
	n = link.Read(all)
	assert.Equal(t, []uint32{5, 6, 7}, all[:n])
}

func TestLink_PacketIDWraps(t *testing.T) {
	t.Parallel()

	link, mock := newTestLink(t, WithFirstPacketID(0xFFFFFFFF))
	ctx := context.Background()
	require.NoError(t, link.Poll(ctx))
	require.NoError(t, link.Poll(ctx))

	sent := mock.Sent()
	assert.Equal(t, uint32(0xFFFFFFFF), packet.Packet(sent[0]).ID())
	assert.Equal(t, uint32(0), packet.Packet(sent[1]).ID())
}

func TestLink_Close(t *testing.T) {
	t.Parallel()

	link, mock := newTestLink(t)
	require.NoError(t, link.Close())
	require.NoError(t, link.Close(), "second close is a no-op")
	assert.False(t, mock.IsConnected())

	require.ErrorIs(t, link.Write([]uint32{1}), ErrLinkClosed)
	err := link.Poll(context.Background())
	require.ErrorIs(t, err, ErrLinkClosed)
	assert.True(t, IsFatal(err))
}

func TestLink_CancelledContext(t *testing.T) {
	t.Parallel()

	link, mock := newTestLink(t)
	require.NoError(t, link.Write([]uint32{1}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, link.Poll(ctx), context.Canceled)
	assert.Equal(t, uint64(0), link.Stats().PacketsSent)

	require.NoError(t, link.Poll(context.Background()))
	sent := mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []uint32{1}, packet.Packet(sent[0]).Payload())
}

func TestLink_ConcurrentWriteAndPoll(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	// Echo the payload back so everything written comes back in order.
	mock.SetResponder(func(tx []uint32) []uint32 {
		echo := append([]uint32(nil), tx...)
		return echo
	})
	link, err := NewLink(mock, WithRetryConfig(nil))
	require.NoError(t, err)

	const total = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if link.Write([]uint32{uint32(i)}) == nil {
				i++
			}
		}
	}()

	ctx := context.Background()
	var got []uint32
	buf := make([]uint32, 32)
	for len(got) < total {
		require.NoError(t, link.Poll(ctx))
		n := link.Read(buf)
		got = append(got, buf[:n]...)
	}
	wg.Wait()

	for i, w := range got {
		require.Equal(t, uint32(i), w)
	}
}

// lostReplyTransport hands every packet to peer but reports a timeout for
// the first failures exchanges, as a UART does when the reply is lost after
// a complete write.
type lostReplyTransport struct {
	*MockTransport
	peer     *testutil.VirtualPeer
	failures int
}

func (lr *lostReplyTransport) Exchange(_ context.Context, tx, rx []uint32) error {
	reply := lr.peer.Respond(tx)
	if lr.failures > 0 {
		lr.failures--
		return NewTimeoutError("Exchange", "mock")
	}
	copy(rx, reply)
	return nil
}

func TestLink_ResentPacketReachesPeerOnce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		opts  []Option
		polls int
	}{
		{name: "resent by retry wrapper", polls: 1},
		{name: "resent by next poll", opts: []Option{WithRetryConfig(nil)}, polls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			peer := testutil.NewVirtualPeer(testutil.DefaultPeerConfig())
			transport := &lostReplyTransport{MockTransport: NewMockTransport(), peer: peer, failures: 1}
			link, err := NewLink(transport, tt.opts...)
			require.NoError(t, err)
			require.NoError(t, link.Write([]uint32{1, 2, 3}))

			ctx := context.Background()
			for i := range tt.polls {
				err = link.Poll(ctx)
				if i < tt.polls-1 {
					require.ErrorIs(t, err, ErrTransportTimeout)
				}
			}
			require.NoError(t, err)

			dst := make([]uint32, 8)
			n := peer.Receive(dst)
			assert.Equal(t, []uint32{1, 2, 3}, dst[:n])
			assert.Equal(t, 1, peer.Stats().Received)
			assert.Equal(t, 1, peer.Stats().Repeats)
		})
	}
}

func TestLink_IgnoresRepeatedPeerPacket(t *testing.T) {
	t.Parallel()

	link, mock := newTestLink(t)
	repeated := peerPacket(t, 0x20, 7, 8)
	mock.QueueResponse(repeated)
	mock.QueueResponse(repeated)
	mock.QueueResponse(peerPacket(t, 0x21, 9))

	ctx := context.Background()
	for range 3 {
		require.NoError(t, link.Poll(ctx))
	}

	dst := make([]uint32, 8)
	n := link.Read(dst)
	assert.Equal(t, []uint32{7, 8, 9}, dst[:n])

	stats := link.Stats()
	assert.Equal(t, uint64(2), stats.PacketsReceived)
	assert.Equal(t, uint64(1), stats.Repeats)
	assert.Equal(t, uint32(0x21), stats.LastPeerID)
}

func TestLink_IgnoresRepeatOfParkedPacket(t *testing.T) {
	t.Parallel()

	link, mock := newTestLink(t, WithBufferCapacity(16, 4))
	mock.QueueResponse(peerPacket(t, 1, 1, 2, 3))
	parked := peerPacket(t, 2, 4, 5)
	mock.QueueResponse(parked)
	mock.QueueResponse(parked)

	ctx := context.Background()
	for range 3 {
		require.NoError(t, link.Poll(ctx))
	}

	stats := link.Stats()
	assert.Equal(t, uint64(1), stats.Overflows)
	assert.Equal(t, uint64(1), stats.Repeats)
	assert.Zero(t, stats.Dropped)

	all := make([]uint32, 8)
	n := link.Read(all)
	assert.Equal(t, []uint32{1, 2, 3}, all[:n])
	n = link.Read(all)
	assert.Equal(t, []uint32{4, 5}, all[:n])
}
