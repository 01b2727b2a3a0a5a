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

package packet

import "sync"

// BufferPool recycles the byte buffers transports use to encode and decode
// packets, keeping allocations out of the per-exchange path.
type BufferPool struct {
	// Buffers sized for a DefaultWords packet
	framePool sync.Pool
	// Buffers up to LargeBufferSize for larger configured packets
	largePool sync.Pool
}

// Size thresholds for buffer categories
const (
	FrameBufferSize = DefaultWords * WordSize
	LargeBufferSize = 1024
)

var defaultPool = NewBufferPool()

// NewBufferPool creates an empty pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		framePool: sync.Pool{
			New: func() any {
				buf := make([]byte, FrameBufferSize)
				return &buf
			},
		},
		largePool: sync.Pool{
			New: func() any {
				buf := make([]byte, LargeBufferSize)
				return &buf
			},
		},
	}
}

// GetBuffer returns a buffer of exactly size bytes. It should be handed
// back with PutBuffer when done.
func (p *BufferPool) GetBuffer(size int) []byte {
	switch {
	case size <= FrameBufferSize:
		bufPtr, ok := p.framePool.Get().(*[]byte)
		if !ok {
			return make([]byte, size)
		}
		return (*bufPtr)[:size]
	case size <= LargeBufferSize:
		bufPtr, ok := p.largePool.Get().(*[]byte)
		if !ok {
			return make([]byte, size)
		}
		return (*bufPtr)[:size]
	default:
		// Oversized requests bypass the pool
		return make([]byte, size)
	}
}

// PutBuffer zeroes buf and returns it to the pool. buf must not be used
// afterwards.
func (p *BufferPool) PutBuffer(buf []byte) {
	if buf == nil {
		return
	}
	clear(buf[:cap(buf)])

	switch cap(buf) {
	case FrameBufferSize:
		full := buf[:FrameBufferSize]
		p.framePool.Put(&full)
	case LargeBufferSize:
		full := buf[:LargeBufferSize]
		p.largePool.Put(&full)
	}
}

// GetBuffer acquires a buffer from the default pool.
func GetBuffer(size int) []byte {
	return defaultPool.GetBuffer(size)
}

// PutBuffer returns a buffer to the default pool.
func PutBuffer(buf []byte) {
	defaultPool.PutBuffer(buf)
}
