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

package spistream

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-spistream/internal/syncutil"
	"github.com/ZaparooProject/go-spistream/packet"
	"github.com/ZaparooProject/go-spistream/ring"
)

// ErrPacketDropped is returned by Poll when a valid packet had to be
// discarded because an earlier packet is still waiting for RX space.
var ErrPacketDropped = errors.New("packet dropped")

// LinkConfig contains configuration options for a Link
type LinkConfig struct {
	// RetryConfig configures retry behavior for exchanges; nil disables
	// the retry wrapper.
	RetryConfig *RetryConfig
	// PacketWords is the fixed packet size N in words
	PacketWords int
	// TXCapacity is the size of the outbound staging buffer in words
	TXCapacity int
	// RXCapacity is the size of the inbound staging buffer in words
	RXCapacity int
	// Logger receives the link's warnings; nil uses the package logger
	Logger Logger `json:"-"`
	// FirstPacketID is the id of the first packet sent; ids then increment
	FirstPacketID uint32
}

// DefaultLinkConfig returns default link configuration
func DefaultLinkConfig() *LinkConfig {
	return &LinkConfig{
		RetryConfig: DefaultRetryConfig(),
		PacketWords: packet.DefaultWords,
		TXCapacity:  ring.IOBufferSize,
		RXCapacity:  ring.IOBufferSize,
	}
}

// Option configures a Link at construction
type Option func(*LinkConfig) error

// WithPacketWords sets the packet size N
func WithPacketWords(n int) Option {
	return func(c *LinkConfig) error {
		if n < packet.MinWords {
			return fmt.Errorf("%w: packet of %d words, minimum is %d", ErrInvalidParameter, n, packet.MinWords)
		}
		c.PacketWords = n
		return nil
	}
}

// WithBufferCapacity sets the TX and RX staging buffer sizes in words
func WithBufferCapacity(tx, rx int) Option {
	return func(c *LinkConfig) error {
		if tx < 1 || rx < 1 {
			return fmt.Errorf("%w: buffer capacity tx=%d rx=%d", ErrInvalidParameter, tx, rx)
		}
		c.TXCapacity = tx
		c.RXCapacity = rx
		return nil
	}
}

// WithFirstPacketID sets the id of the first outbound packet
func WithFirstPacketID(id uint32) Option {
	return func(c *LinkConfig) error {
		c.FirstPacketID = id
		return nil
	}
}

// WithRetryConfig sets the exchange retry policy; nil disables retries
func WithRetryConfig(rc *RetryConfig) Option {
	return func(c *LinkConfig) error {
		c.RetryConfig = rc
		return nil
	}
}

// WithLogger sets the logger used by this link only
func WithLogger(l Logger) Option {
	return func(c *LinkConfig) error {
		c.Logger = l
		return nil
	}
}

// WithLinkConfig replaces the whole configuration
func WithLinkConfig(cfg *LinkConfig) Option {
	return func(c *LinkConfig) error {
		if cfg == nil {
			return fmt.Errorf("%w: nil link config", ErrInvalidParameter)
		}
		*c = *cfg
		if c.PacketWords < packet.MinWords || c.TXCapacity < 1 || c.RXCapacity < 1 {
			return fmt.Errorf("%w: link config %+v", ErrInvalidParameter, *cfg)
		}
		return nil
	}
}

// Stats counts link activity since the link was created
type Stats struct {
	PacketsSent      uint64 `json:"packets_sent"`
	PacketsReceived  uint64 `json:"packets_received"`
	WordsSent        uint64 `json:"words_sent"`
	WordsReceived    uint64 `json:"words_received"`
	Heartbeats       uint64 `json:"heartbeats"`
	ChecksumErrors   uint64 `json:"checksum_errors"`
	MalformedPackets uint64 `json:"malformed_packets"`
	Overflows        uint64 `json:"overflows"`
	Dropped          uint64 `json:"dropped"`
	Repeats          uint64 `json:"repeats"`
	TransportErrors  uint64 `json:"transport_errors"`
	LastPeerID       uint32 `json:"last_peer_id"`
}

// Link is the master side of a packet stream. It stages outbound words in
// a TX ring buffer, turns them into packets on every Poll, and collects the
// payload of valid inbound packets in an RX ring buffer.
//
// Write, Read and the query methods may be called from any goroutine.
// Poll calls are serialized; the bus is only held by one exchange at a time.
type Link struct {
	transport Transport
	log       Logger
	config    LinkConfig
	tx        *ring.Buffer
	rx        *ring.Buffer
	txPkt     []uint32
	rxPkt     []uint32
	parked    []uint32
	stats     Stats
	nextID    uint32
	pollMu    syncutil.Mutex
	mu        syncutil.Mutex
	txPending bool
	peerSeen  bool
	closed    bool
}

// NewLink creates a link over transport
func NewLink(transport Transport, opts ...Option) (*Link, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidParameter)
	}
	cfg := DefaultLinkConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.RetryConfig != nil {
		transport = NewTransportWithRetry(transport, cfg.RetryConfig)
	}
	base := cfg.Logger
	if base == nil {
		base = GetLogger()
	}

	return &Link{
		transport: transport,
		config:    *cfg,
		log:       base.WithFields(map[string]any{"transport": string(transport.Type())}),
		tx:        ring.New(cfg.TXCapacity),
		rx:        ring.New(cfg.RXCapacity),
		txPkt:     make([]uint32, cfg.PacketWords),
		rxPkt:     make([]uint32, cfg.PacketWords),
		nextID:    cfg.FirstPacketID,
	}, nil
}

// Config returns a copy of the link configuration
func (l *Link) Config() LinkConfig {
	return l.config
}

// Write stages words for transmission. Either all words are queued or, if
// they do not fit, none are and an error wrapping ErrBufferOverflow is
// returned.
func (l *Link) Write(words []uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLinkClosed
	}
	if err := l.tx.Append(words); err != nil {
		return fmt.Errorf("link write: %w", err)
	}
	return nil
}

// Read moves up to len(dst) received words into dst and returns how many
// were copied. Freeing space may let a parked packet be delivered.
func (l *Link) Read(dst []uint32) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.rx.Read(dst)
	if n > 0 {
		l.deliverParked()
	}
	return n
}

// Buffered returns the number of received words waiting to be read
func (l *Link) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rx.Len()
}

// Pending returns the number of staged words not yet sent
func (l *Link) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tx.Len()
}

// WriteSpace returns how many words Write can accept
func (l *Link) WriteSpace() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tx.Free()
}

// Stats returns a snapshot of the link counters
func (l *Link) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Poll performs one packet exchange. The outbound packet carries as many
// staged words as fit, or none (a heartbeat). If the exchange fails the
// same packet, with the same id, is resent by the next Poll, so staged data
// is never lost or reordered. A peer that already took the first copy
// ignores the repeat, and the link does the same for inbound packets: a
// valid packet with the id of the last one accepted is counted in
// Stats.Repeats and its payload discarded.
//
// Inbound packets that fail validation are counted and reported as errors;
// the link stays usable. A valid packet that does not fit in the RX buffer
// is parked and delivered once Read frees space.
func (l *Link) Poll(ctx context.Context) error {
	l.pollMu.Lock()
	defer l.pollMu.Unlock()

	id, err := l.prepareTX()
	if err != nil {
		return err
	}

	if err := l.transport.Exchange(ctx, l.txPkt, l.rxPkt); err != nil {
		l.mu.Lock()
		l.stats.TransportErrors++
		l.mu.Unlock()
		l.log.Warnf("exchange of packet 0x%08X failed: %v", id, err)
		return fmt.Errorf("exchange packet 0x%08X: %w", id, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.txPending = false
	l.stats.PacketsSent++
	sent := packet.Packet(l.txPkt).Len()
	l.stats.WordsSent += uint64(sent)
	if sent == 0 {
		l.stats.Heartbeats++
	}
	Debugf("link: sent packet 0x%08X with %d words", id, sent)

	return l.receive()
}

// prepareTX builds the next outbound packet unless a previous one is still
// waiting to be resent. It returns the id of the packet to send.
func (l *Link) prepareTX() (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrLinkClosed
	}
	l.deliverParked()

	if l.txPending {
		return l.txPkt[packet.IDIndex], nil
	}

	id := l.nextID
	if _, err := packet.ConstructTX(id, l.txPkt, l.tx); err != nil {
		return id, fmt.Errorf("link poll: %w", err)
	}
	l.nextID++
	l.txPending = true
	return id, nil
}

// receive handles the packet just clocked in. Called with mu held.
func (l *Link) receive() error {
	id, err := packet.VerifyPacket(l.rxPkt)
	if err != nil {
		return l.rejected(err)
	}
	if l.isRepeat(id) {
		l.stats.Repeats++
		l.log.Debugf("ignored repeat of packet 0x%08X", id)
		return nil
	}
	if l.parked != nil {
		return l.receiveWhileParked(id)
	}

	err = packet.ReadRX(l.rxPkt, l.rx)
	if err == nil {
		l.accepted(l.rxPkt)
		return nil
	}

	if errors.Is(err, ring.ErrOverflow) {
		l.stats.Overflows++
		l.parked = append(l.parked[:0], l.rxPkt...)
		l.log.Debugf("rx buffer full, parked packet 0x%08X", l.rxPkt[packet.IDIndex])
		return nil
	}
	return l.rejected(err)
}

// isRepeat reports whether id belongs to the packet accepted or parked
// last. Called with mu held.
func (l *Link) isRepeat(id uint32) bool {
	if l.parked != nil {
		return id == l.parked[packet.IDIndex]
	}
	return l.peerSeen && id == l.stats.LastPeerID
}

// receiveWhileParked keeps delivery in order: nothing with a payload may
// overtake the parked packet.
func (l *Link) receiveWhileParked(id uint32) error {
	if packet.Packet(l.rxPkt).Len() == 0 {
		l.accepted(l.rxPkt)
		return nil
	}
	l.stats.Dropped++
	l.log.Warnf("dropped packet 0x%08X: packet 0x%08X still waiting for rx space",
		id, l.parked[packet.IDIndex])
	return fmt.Errorf("packet 0x%08X: %w", id, ErrPacketDropped)
}

// deliverParked retries the parked packet. Called with mu held.
func (l *Link) deliverParked() {
	if l.parked == nil {
		return
	}
	if err := packet.ReadRX(l.parked, l.rx); err != nil {
		return
	}
	l.accepted(l.parked)
	l.parked = nil
}

func (l *Link) accepted(pkt []uint32) {
	p := packet.Packet(pkt)
	l.stats.PacketsReceived++
	l.stats.WordsReceived += uint64(p.Len())
	l.stats.LastPeerID = p.ID()
	l.peerSeen = true
	Debugf("link: received packet 0x%08X with %d words", p.ID(), p.Len())
}

func (l *Link) rejected(err error) error {
	switch {
	case errors.Is(err, ErrChecksumMismatch):
		l.stats.ChecksumErrors++
	case errors.Is(err, ErrMalformedLength):
		l.stats.MalformedPackets++
	}
	l.log.Warnf("rejected packet: %v", err)
	return fmt.Errorf("link receive: %w", err)
}

// Close stops the link and closes its transport. Staged words are discarded.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if err := l.transport.Close(); err != nil {
		return fmt.Errorf("failed to close link transport: %w", err)
	}
	return nil
}
