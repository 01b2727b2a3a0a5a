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

package testing

import (
	"io"
	"math/rand/v2"
	"time"
)

// JitterConfig configures the behavior of JitteryPort.
type JitterConfig struct {
	MaxLatency time.Duration
	// FragmentMinBytes is the smallest read returned when fragmenting.
	FragmentMinBytes int
	// StallAfterBytes makes one read stall for StallDuration once that
	// many bytes have been delivered.
	StallAfterBytes int
	StallDuration   time.Duration
	Seed            uint64
	FragmentReads   bool
	// USBBoundaryStress splits reads at 64-byte boundaries, as USB-serial
	// bridges deliver bulk transfers.
	USBBoundaryStress bool
}

// DefaultJitterConfig returns a configuration that fragments every read.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency:       2 * time.Millisecond,
		FragmentReads:    true,
		FragmentMinBytes: 1,
	}
}

// JitteryPort wraps an io.ReadWriter and delivers its data the way a real
// serial adapter does: late, and in arbitrary pieces. Reads are buffered so
// no bytes are lost when a fragment is shorter than what the backend
// returned.
type JitteryPort struct {
	backend   io.ReadWriter
	rng       *rand.Rand
	pending   []byte
	config    JitterConfig
	delivered int
	stalled   bool
}

// NewJitteryPort wraps backend.
func NewJitteryPort(backend io.ReadWriter, config JitterConfig) *JitteryPort {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // Test code, not crypto
	}
	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}
	return &JitteryPort{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0xDEADBEEF)), //nolint:gosec // Test code, not crypto
	}
}

// Write passes through unchanged. Only reads are disturbed.
func (j *JitteryPort) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // Pass-through wrapper
}

// Read returns a fragment of the available data after a random delay.
func (j *JitteryPort) Read(buf []byte) (int, error) {
	if j.config.MaxLatency > 0 {
		time.Sleep(time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)))
	}

	if len(j.pending) == 0 {
		chunk := make([]byte, 1024)
		n, err := j.backend.Read(chunk)
		if err != nil {
			return 0, err //nolint:wrapcheck // Pass-through wrapper
		}
		if n == 0 {
			return 0, nil
		}
		j.pending = append(j.pending, chunk[:n]...)
	}

	n := min(len(j.pending), len(buf))
	n = j.limitForStall(n)

	if j.config.USBBoundaryStress && n > 0 {
		untilBoundary := 64 - j.delivered%64
		n = min(n, untilBoundary)
	}

	if j.config.FragmentReads && n > j.config.FragmentMinBytes {
		n = j.config.FragmentMinBytes + j.rng.IntN(n-j.config.FragmentMinBytes+1)
	}

	copy(buf, j.pending[:n])
	j.pending = j.pending[n:]
	j.delivered += n
	return n, nil
}

// limitForStall caps a read so delivery pauses exactly at StallAfterBytes,
// and sleeps on the first read after that point.
func (j *JitteryPort) limitForStall(n int) int {
	if j.config.StallAfterBytes <= 0 || j.stalled {
		return n
	}
	if j.delivered >= j.config.StallAfterBytes {
		j.stalled = true
		time.Sleep(j.config.StallDuration)
		return n
	}
	return min(n, j.config.StallAfterBytes-j.delivered)
}

// Delivered returns the number of bytes handed to readers so far.
func (j *JitteryPort) Delivered() int {
	return j.delivered
}

// Reset clears buffered data and the stall state.
func (j *JitteryPort) Reset() {
	j.pending = nil
	j.delivered = 0
	j.stalled = false
}
