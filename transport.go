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
	"time"

	"github.com/ZaparooProject/go-spistream/internal/syncutil"
)

// Transport moves one packet in each direction per call. Implementations
// drive the physical link (SPI, UART); the packet contents are opaque to
// them.
type Transport interface {
	// Exchange clocks tx out and fills rx with the packet clocked in during
	// the same transaction. len(tx) must equal len(rx).
	Exchange(ctx context.Context, tx, rx []uint32) error

	// Close closes the transport connection
	Close() error

	// SetTimeout sets the per-exchange timeout
	SetTimeout(timeout time.Duration) error

	// IsConnected returns true if the transport is connected
	IsConnected() bool

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportSPI represents SPI bus transport.
	TransportSPI TransportType = "spi"
	// TransportUART represents UART/serial transport.
	TransportUART TransportType = "uart"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// CheckExchangeArgs rejects an empty packet or a tx/rx pair of different
// lengths. Transports call it before touching the bus.
func CheckExchangeArgs(op, port string, tx, rx []uint32) error {
	if len(tx) == 0 {
		return NewInvalidParameterError(op, port, "empty packet")
	}
	if len(tx) != len(rx) {
		return NewInvalidParameterError(op, port,
			fmt.Sprintf("tx has %d words, rx has %d", len(tx), len(rx)))
	}
	return nil
}

// TransportWithRetry wraps a Transport with retry capabilities
type TransportWithRetry struct {
	transport Transport
	config    *RetryConfig
}

// NewTransportWithRetry creates a new transport wrapper with retry logic
func NewTransportWithRetry(transport Transport, config *RetryConfig) *TransportWithRetry {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &TransportWithRetry{
		transport: transport,
		config:    config,
	}
}

// Exchange performs the exchange, retrying transient failures. rx holds the
// result of the last attempt.
func (t *TransportWithRetry) Exchange(ctx context.Context, tx, rx []uint32) error {
	return RetryWithConfig(ctx, t.config, func() error {
		err := t.transport.Exchange(ctx, tx, rx)
		if err == nil {
			return nil
		}
		var te *TransportError
		if errors.As(err, &te) {
			return err
		}
		// Keep a vanished device fatal once it is wrapped
		if IsFatal(err) {
			return &TransportError{Op: "Exchange", Err: err, Type: ErrorTypePermanent}
		}
		return &TransportError{
			Op:        "Exchange",
			Err:       err,
			Type:      ErrorTypeTransient,
			Retryable: IsRetryable(err),
		}
	})
}

// Close closes the transport connection
func (t *TransportWithRetry) Close() error {
	if err := t.transport.Close(); err != nil {
		return fmt.Errorf("failed to close underlying transport: %w", err)
	}
	return nil
}

// SetTimeout sets the read timeout for the transport
func (t *TransportWithRetry) SetTimeout(timeout time.Duration) error {
	if err := t.transport.SetTimeout(timeout); err != nil {
		return fmt.Errorf("failed to set timeout on underlying transport: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *TransportWithRetry) IsConnected() bool {
	return t.transport.IsConnected()
}

// Type returns the transport type
func (t *TransportWithRetry) Type() TransportType {
	return t.transport.Type()
}

// SetRetryConfig updates the retry configuration
func (t *TransportWithRetry) SetRetryConfig(config *RetryConfig) {
	t.config = config
}

// MockTransport provides a scripted implementation of Transport for testing.
// Queued responses are returned in order; once the queue is empty the mock
// answers with the fallback responder, or an all-zero packet.
type MockTransport struct {
	responder func(tx []uint32) []uint32
	errs      []error
	responses [][]uint32
	sent      [][]uint32
	timeout   time.Duration
	delay     time.Duration
	mu        syncutil.RWMutex
	connected bool
}

// NewMockTransport creates a new mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{
		connected: true,
		timeout:   time.Second,
	}
}

// Exchange implements Transport
func (m *MockTransport) Exchange(ctx context.Context, tx, rx []uint32) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := CheckExchangeArgs("Exchange", "mock", tx, rx); err != nil {
		return err
	}

	m.mu.RLock()
	connected := m.connected
	delay := m.delay
	m.mu.RUnlock()

	if !connected {
		return NewTransportClosedError("Exchange", "mock")
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent = append(m.sent, append([]uint32(nil), tx...))

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return err
		}
	}

	var resp []uint32
	switch {
	case len(m.responses) > 0:
		resp = m.responses[0]
		m.responses = m.responses[1:]
	case m.responder != nil:
		resp = m.responder(tx)
	}
	clear(rx)
	copy(rx, resp)
	return nil
}

// Close implements Transport
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// SetTimeout implements Transport
func (m *MockTransport) SetTimeout(timeout time.Duration) error {
	m.mu.Lock()
	m.timeout = timeout
	m.mu.Unlock()
	return nil
}

// IsConnected implements Transport
func (m *MockTransport) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Type implements Transport
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// Test helper methods

// QueueResponse appends a packet to be returned by a future Exchange
func (m *MockTransport) QueueResponse(pkt []uint32) {
	m.mu.Lock()
	m.responses = append(m.responses, append([]uint32(nil), pkt...))
	m.mu.Unlock()
}

// QueueError makes a future Exchange fail with err. A nil entry lets that
// exchange proceed normally.
func (m *MockTransport) QueueError(err error) {
	m.mu.Lock()
	m.errs = append(m.errs, err)
	m.mu.Unlock()
}

// SetResponder sets the fallback used when no response is queued
func (m *MockTransport) SetResponder(fn func(tx []uint32) []uint32) {
	m.mu.Lock()
	m.responder = fn
	m.mu.Unlock()
}

// SetDelay configures a delay to simulate bus time
func (m *MockTransport) SetDelay(delay time.Duration) {
	m.mu.Lock()
	m.delay = delay
	m.mu.Unlock()
}

// Sent returns copies of every packet passed to Exchange
func (m *MockTransport) Sent() [][]uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]uint32, len(m.sent))
	for i, pkt := range m.sent {
		out[i] = append([]uint32(nil), pkt...)
	}
	return out
}

// GetCallCount returns how many times Exchange was called
func (m *MockTransport) GetCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sent)
}

// Reset clears recorded packets, queues and reconnects the mock
func (m *MockTransport) Reset() {
	m.mu.Lock()
	m.sent = nil
	m.responses = nil
	m.errs = nil
	m.connected = true
	m.mu.Unlock()
}
