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
	"errors"
	"fmt"
	"io"
	"runtime"
	"syscall"

	"github.com/ZaparooProject/go-spistream/packet"
	"github.com/ZaparooProject/go-spistream/ring"
)

// Error categories for better error handling and retry logic
var (
	// Transport errors - potentially retryable
	ErrTransportTimeout = errors.New("transport timeout")
	ErrTransportWrite   = errors.New("transport write failed")
	ErrTransportRead    = errors.New("transport read failed")
	ErrTransportClosed  = errors.New("transport is closed")

	// Packet errors - the packet is discarded, the link keeps running
	ErrChecksumMismatch = packet.ErrChecksumMismatch
	ErrMalformedLength  = packet.ErrMalformedLength

	// Buffer errors - retryable once the other side drains
	ErrBufferOverflow = ring.ErrOverflow

	// Link errors - not retryable
	ErrLinkClosed       = errors.New("link is closed")
	ErrInvalidParameter = errors.New("invalid parameter")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// TransportError wraps transport-level errors with additional context
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Port      string    // Port or device identifier
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrChecksumMismatch),
		errors.Is(err, ErrBufferOverflow):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the device/connection is gone
// and polling should stop entirely. This is distinct from IsRetryable which
// indicates whether a single operation can be retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrLinkClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for device disconnection detection.
// These are defined here because they're not available on non-Windows platforms.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors indicating the bus device
// or USB serial adapter disappeared during I/O.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}
	return false
}

// Error constructors for consistent error creation

// NewTransportError creates a standard transport error with consistent formatting
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTimeoutError creates a timeout error for transport operations
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewTransportWriteError creates a write error (transient)
func NewTransportWriteError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportWrite, ErrorTypeTransient)
}

// NewTransportReadError creates a read error (transient)
func NewTransportReadError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportRead, ErrorTypeTransient)
}

// NewTransportClosedError creates a closed-transport error (permanent)
func NewTransportClosedError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportClosed, ErrorTypePermanent)
}

// NewInvalidParameterError creates a permanent error for a bad argument,
// such as a packet buffer of the wrong size.
func NewInvalidParameterError(op, port string, detail string) *TransportError {
	return NewTransportError(op, port, fmt.Errorf("%w: %s", ErrInvalidParameter, detail), ErrorTypePermanent)
}
