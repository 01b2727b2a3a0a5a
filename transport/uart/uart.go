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

// Package uart provides a serial transport for spistream links. It carries
// the same fixed-size packets as the SPI transport over a UART, for slaves
// reached through a USB-serial bridge. Each Exchange writes one packet and
// then reads exactly one packet back.
package uart

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/ZaparooProject/go-spistream"
	"github.com/ZaparooProject/go-spistream/internal/syncutil"
	"github.com/ZaparooProject/go-spistream/packet"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is used unless WithBaudRate is given
	DefaultBaudRate = 115200

	traceEntries = 4
)

// Option configures the serial port
type Option func(*serial.Mode)

// WithBaudRate sets the line speed
func WithBaudRate(baud int) Option {
	return func(m *serial.Mode) {
		if baud > 0 {
			m.BaudRate = baud
		}
	}
}

// Transport implements the spistream.Transport interface for UART
type Transport struct {
	port     serial.Port
	portName string
	timeout  time.Duration
	mu       syncutil.Mutex
}

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// getReadSlice returns how long a single port read may block. Windows
// serial drivers need a longer slice.
func getReadSlice() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// windowsPostWriteDelay gives Windows drivers time to flush after a write
func windowsPostWriteDelay() {
	if isWindows() {
		time.Sleep(15 * time.Millisecond)
	}
}

// New opens the serial port at 8N1
func New(portName string, opts ...Option) (*Transport, error) {
	mode := &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	for _, opt := range opts {
		opt(mode)
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(getReadSlice()); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}

	spistream.Debugf("UART %s opened at %d baud", portName, mode.BaudRate)
	return newTransport(port, portName), nil
}

func newTransport(port serial.Port, portName string) *Transport {
	return &Transport{
		port:     port,
		portName: portName,
		timeout:  spistream.DefaultExchangeRetryTimeout,
	}
}

// ListPorts returns the serial ports present on this host
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// Exchange writes tx and reads one packet into rx. If the reply does not
// arrive within the transport timeout the input buffer is flushed so the
// next exchange starts on a packet boundary.
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

	if t.port == nil {
		return spistream.NewTransportClosedError("Exchange", t.portName)
	}

	trace := spistream.NewTraceBuffer("UART", t.portName, traceEntries)
	size := packet.EncodedSize(len(tx))
	out := packet.GetBuffer(size)
	defer packet.PutBuffer(out)
	in := packet.GetBuffer(size)
	defer packet.PutBuffer(in)

	if _, err := packet.Encode(out, tx); err != nil {
		return spistream.NewInvalidParameterError("Exchange", t.portName, err.Error())
	}
	trace.RecordTX(out[:size], fmt.Sprintf("packet 0x%08X", tx[0]))

	if err := t.writePacket(out[:size]); err != nil {
		return trace.WrapError(err)
	}

	got, err := t.readPacket(ctx, in[:size])
	if err != nil {
		trace.RecordRX(in[:got], "partial")
		if got > 0 || spistream.IsRetryable(err) {
			_ = t.port.ResetInputBuffer()
		}
		return trace.WrapError(err)
	}
	trace.RecordRX(in[:size], "")

	if err := packet.Decode(rx, in[:size]); err != nil {
		return trace.WrapError(spistream.NewTransportReadError("Exchange", t.portName))
	}
	return nil
}

func (t *Transport) writePacket(data []byte) error {
	n, err := t.port.Write(data)
	if err != nil {
		return t.ioError(spistream.ErrTransportWrite, err)
	}
	if n != len(data) {
		return spistream.NewTransportWriteError("Exchange", t.portName)
	}
	if err := t.drainWithRetry("packet"); err != nil {
		return t.ioError(spistream.ErrTransportWrite, err)
	}
	windowsPostWriteDelay()
	return nil
}

// readPacket fills buf, tolerating fragmented delivery, until the transport
// timeout expires. It returns how many bytes arrived.
func (t *Transport) readPacket(ctx context.Context, buf []byte) (int, error) {
	deadline := time.Now().Add(t.timeout)
	got := 0
	for got < len(buf) {
		select {
		case <-ctx.Done():
			return got, ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			return got, spistream.NewTimeoutError("Exchange", t.portName)
		}

		n, err := t.port.Read(buf[got:])
		if err != nil {
			if isInterruptedSystemCall(err) {
				continue
			}
			return got, t.ioError(spistream.ErrTransportRead, err)
		}
		got += n
	}
	return got, nil
}

// ioError classifies a port error; a vanished device is permanent.
func (t *Transport) ioError(kind, err error) error {
	errType := spistream.ErrorTypeTransient
	if spistream.IsFatal(err) {
		errType = spistream.ErrorTypePermanent
	}
	return spistream.NewTransportError("Exchange", t.portName, fmt.Errorf("%w: %w", kind, err), errType)
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry waits for output to be sent, retrying interrupted calls
func (t *Transport) drainWithRetry(operation string) error {
	const maxRetries = 3
	delay := 2 * time.Millisecond

	var err error
	for range maxRetries {
		if err = t.port.Drain(); err == nil {
			return nil
		}
		if !isInterruptedSystemCall(err) {
			break
		}
		time.Sleep(delay)
		delay *= 2
	}
	return fmt.Errorf("UART %s drain failed: %w", operation, err)
}

// SetTimeout sets how long Exchange waits for a complete reply packet
func (t *Transport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timeout <= 0 {
		return spistream.NewInvalidParameterError("SetTimeout", t.portName, "timeout must be positive")
	}
	t.timeout = timeout
	if t.port == nil {
		return nil
	}
	if err := t.port.SetReadTimeout(min(timeout, getReadSlice())); err != nil {
		return fmt.Errorf("UART set timeout failed: %w", err)
	}
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
	if err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Type returns the transport type
func (*Transport) Type() spistream.TransportType {
	return spistream.TransportUART
}
