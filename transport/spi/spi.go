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

// Package spi provides the SPI bus transport for spistream links. Each
// Exchange is a single full-duplex transaction: the master packet is
// clocked out on MOSI while the slave packet is clocked in on MISO.
package spi

import (
	"context"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-spistream"
	"github.com/ZaparooProject/go-spistream/internal/syncutil"
	"github.com/ZaparooProject/go-spistream/packet"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// DefaultFrequency is the bus clock used unless WithFrequency is given
	DefaultFrequency = 1 * physic.MegaHertz
	// DefaultMode is CPOL=0, CPHA=0
	DefaultMode = spi.Mode0

	bitsPerWord  = 8
	traceEntries = 4
)

type config struct {
	frequency physic.Frequency
	mode      spi.Mode
}

// Option configures the SPI connection
type Option func(*config)

// WithFrequency sets the bus clock
func WithFrequency(f physic.Frequency) Option {
	return func(c *config) {
		if f > 0 {
			c.frequency = f
		}
	}
}

// WithMode sets the SPI mode (clock polarity and phase)
func WithMode(m spi.Mode) Option {
	return func(c *config) {
		c.mode = m
	}
}

// Transport implements the spistream.Transport interface for SPI
type Transport struct {
	port     spi.PortCloser
	conn     spi.Conn
	portName string
	timeout  time.Duration
	mu       syncutil.Mutex
}

// New opens the SPI port (for example "/dev/spidev0.0" or "SPI0.0")
func New(portName string, opts ...Option) (*Transport, error) {
	cfg := config{frequency: DefaultFrequency, mode: DefaultMode}
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	conn, err := port.Connect(cfg.frequency, cfg.mode, bitsPerWord)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	spistream.Debugf("SPI %s connected at %s, mode %d", portName, cfg.frequency, cfg.mode)
	return newTransport(port, conn, portName), nil
}

func newTransport(port spi.PortCloser, conn spi.Conn, portName string) *Transport {
	return &Transport{
		port:     port,
		conn:     conn,
		portName: portName,
		timeout:  spistream.DefaultExchangeRetryTimeout,
	}
}

// ListPorts returns the names of the SPI ports registered on this host
func ListPorts() ([]string, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	refs := spireg.All()
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, ref.Name)
	}
	return names, nil
}

// Exchange clocks tx out and rx in within one bus transaction. On failure
// the returned error carries a wire trace of the transaction.
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (t *Transport) Exchange(ctx context.Context, tx, rx []uint32) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := spistream.CheckExchangeArgs("Exchange", t.portName, tx, rx); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return spistream.NewTransportClosedError("Exchange", t.portName)
	}

	trace := spistream.NewTraceBuffer("SPI", t.portName, traceEntries)
	size := packet.EncodedSize(len(tx))
	out := packet.GetBuffer(size)
	defer packet.PutBuffer(out)
	in := packet.GetBuffer(size)
	defer packet.PutBuffer(in)

	if _, err := packet.Encode(out, tx); err != nil {
		return spistream.NewInvalidParameterError("Exchange", t.portName, err.Error())
	}
	trace.RecordTX(out[:size], fmt.Sprintf("packet 0x%08X", tx[0]))

	if err := t.conn.Tx(out[:size], in[:size]); err != nil {
		errType := spistream.ErrorTypeTransient
		if spistream.IsFatal(err) {
			errType = spistream.ErrorTypePermanent
		}
		return trace.WrapError(spistream.NewTransportError("Exchange", t.portName,
			fmt.Errorf("%w: %w", spistream.ErrTransportWrite, err), errType))
	}
	trace.RecordRX(in[:size], "")

	if err := packet.Decode(rx, in[:size]); err != nil {
		return trace.WrapError(spistream.NewTransportReadError("Exchange", t.portName))
	}
	return nil
}

// SetTimeout records the exchange timeout. An SPI transaction completes in
// bounded time once started, so the value is informational.
func (t *Transport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	t.timeout = timeout
	t.mu.Unlock()
	return nil
}

// Close closes the transport connection
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.conn = nil
	if err != nil {
		return fmt.Errorf("SPI close failed: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Type returns the transport type
func (*Transport) Type() spistream.TransportType {
	return spistream.TransportSPI
}
