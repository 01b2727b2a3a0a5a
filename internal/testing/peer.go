// go-spistream
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-spistream.
//
// go-spistream is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-spistream is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-spistream; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package testing provides test utilities including a simulated slave
// device for spistream links.
//
// VirtualPeer runs the slave side of the packet protocol with its own TX
// and RX staging buffers. It can be driven a packet at a time through
// Respond (the SPI view, where both packets cross in one transaction) or
// as an io.ReadWriter carrying the little-endian byte stream (the UART
// view).
package testing

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-spistream/internal/syncutil"
	"github.com/ZaparooProject/go-spistream/packet"
	"github.com/ZaparooProject/go-spistream/ring"
)

// PeerConfig configures a VirtualPeer.
type PeerConfig struct {
	PacketWords   int
	TXCapacity    int
	RXCapacity    int
	FirstPacketID uint32
	// Echo moves every received payload word into the peer's TX buffer,
	// so the master reads back what it wrote one exchange later.
	Echo bool
}

// DefaultPeerConfig returns a peer matching the default link geometry.
func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		PacketWords:   packet.DefaultWords,
		TXCapacity:    ring.IOBufferSize,
		RXCapacity:    ring.IOBufferSize,
		FirstPacketID: 0x8000_0000,
	}
}

// PeerStats counts what the peer has seen.
type PeerStats struct {
	Exchanges int
	Received  int
	Rejected  int
	Overflows int
	Corrupted int
	// Repeats counts valid packets ignored because they carried the id of
	// the master packet accepted last.
	Repeats int
}

// VirtualPeer simulates the slave end of a link.
type VirtualPeer struct {
	tx      *ring.Buffer
	rx      *ring.Buffer
	wireIn  []byte
	wireOut []byte
	stats   PeerStats
	words   int
	corrupt int
	nextID  uint32
	lastID  uint32
	mu      syncutil.Mutex
	seen    bool
	echo    bool
}

// NewVirtualPeer creates a peer. Zero fields in cfg take their defaults.
func NewVirtualPeer(cfg PeerConfig) *VirtualPeer {
	def := DefaultPeerConfig()
	if cfg.PacketWords < packet.MinWords {
		cfg.PacketWords = def.PacketWords
	}
	if cfg.TXCapacity < 1 {
		cfg.TXCapacity = def.TXCapacity
	}
	if cfg.RXCapacity < 1 {
		cfg.RXCapacity = def.RXCapacity
	}
	return &VirtualPeer{
		tx:     ring.New(cfg.TXCapacity),
		rx:     ring.New(cfg.RXCapacity),
		words:  cfg.PacketWords,
		nextID: cfg.FirstPacketID,
		echo:   cfg.Echo,
	}
}

// PacketWords returns the packet size the peer expects.
func (p *VirtualPeer) PacketWords() int {
	return p.words
}

// Send stages words for the master.
func (p *VirtualPeer) Send(words []uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.tx.Append(words); err != nil {
		return fmt.Errorf("peer send: %w", err)
	}
	return nil
}

// Receive moves up to len(dst) words received from the master into dst.
func (p *VirtualPeer) Receive(dst []uint32) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rx.Read(dst)
}

// CorruptNext flips a checksum bit in the next n outgoing packets.
func (p *VirtualPeer) CorruptNext(n int) {
	p.mu.Lock()
	p.corrupt += n
	p.mu.Unlock()
}

// Stats returns a snapshot of the peer counters.
func (p *VirtualPeer) Stats() PeerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Respond handles one full-duplex transaction: it returns the packet the
// peer clocks out while masterPkt is clocked in. The reply is built before
// masterPkt is looked at, as a real slave must have its shift register
// loaded before the clock starts.
func (p *VirtualPeer) Respond(masterPkt []uint32) []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.respond(masterPkt)
}

func (p *VirtualPeer) respond(masterPkt []uint32) []uint32 {
	p.stats.Exchanges++

	out := make([]uint32, p.words)
	if _, err := packet.ConstructTX(p.nextID, out, p.tx); err == nil {
		p.nextID++
	}
	if p.corrupt > 0 {
		out[len(out)-1] ^= 1
		p.corrupt--
		p.stats.Corrupted++
	}

	p.receive(masterPkt)
	return out
}

// receive takes the payload of a master packet unless it repeats the id of
// the packet accepted last, which the master sends again after an exchange
// it could not confirm.
func (p *VirtualPeer) receive(masterPkt []uint32) {
	id, err := packet.VerifyPacket(masterPkt)
	if err != nil {
		p.stats.Rejected++
		return
	}
	if p.seen && id == p.lastID {
		p.stats.Repeats++
		return
	}

	err = packet.ReadRX(masterPkt, p.rx)
	switch {
	case err == nil:
		p.stats.Received++
		p.lastID = id
		p.seen = true
		if p.echo {
			p.echoReceived()
		}
	case errors.Is(err, ring.ErrOverflow):
		p.stats.Overflows++
	default:
		p.stats.Rejected++
	}
}

// echoReceived moves as much of the RX buffer into TX as fits.
func (p *VirtualPeer) echoReceived() {
	n := min(p.rx.Len(), p.tx.Free())
	if n == 0 {
		return
	}
	buf := make([]uint32, n)
	_ = p.rx.Consume(buf)
	_ = p.tx.Append(buf)
}

// Write accepts the master's byte stream. Every complete packet is answered
// with a reply that becomes available to Read.
func (p *VirtualPeer) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.wireIn = append(p.wireIn, data...)
	size := packet.EncodedSize(p.words)
	for len(p.wireIn) >= size {
		pkt := make([]uint32, p.words)
		if err := packet.Decode(pkt, p.wireIn[:size]); err != nil {
			return 0, fmt.Errorf("peer decode: %w", err)
		}
		p.wireIn = p.wireIn[size:]

		reply := p.respond(pkt)
		start := len(p.wireOut)
		p.wireOut = append(p.wireOut, make([]byte, size)...)
		if _, err := packet.Encode(p.wireOut[start:], reply); err != nil {
			return 0, fmt.Errorf("peer encode: %w", err)
		}
	}
	return len(data), nil
}

// Read returns pending reply bytes. It returns 0, nil when nothing is
// pending, as a serial port does when its read timeout expires.
func (p *VirtualPeer) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := copy(buf, p.wireOut)
	p.wireOut = p.wireOut[n:]
	return n, nil
}

// PendingWire returns the number of reply bytes not yet read.
func (p *VirtualPeer) PendingWire() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.wireOut)
}

// Reset clears buffers, wire state and counters.
func (p *VirtualPeer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tx.Reset()
	p.rx.Reset()
	p.wireIn = nil
	p.wireOut = nil
	p.stats = PeerStats{}
	p.corrupt = 0
	p.seen = false
}
