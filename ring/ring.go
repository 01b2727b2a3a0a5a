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

// Package ring provides the fixed-capacity word FIFO used to stage data
// flowing to and from a spistream link.
//
// A Buffer never grows and never reallocates after New. Every mutating
// method either completes fully or fails without touching the buffer, so a
// caller can retry a rejected append once space has been freed.
//
// Buffer is not safe for concurrent use. Each instance is meant to have a
// single owner (the TX path or the RX path of one link); callers sharing a
// buffer across goroutines must serialize access themselves.
package ring

import (
	"errors"
	"fmt"
)

// IOBufferSize is the default capacity, in words, of a staging buffer.
const IOBufferSize = 512

var (
	// ErrOverflow is returned when an append does not fit in the free space.
	ErrOverflow = errors.New("ring buffer overflow")
	// ErrUnderflow is returned when more words are requested than are held.
	ErrUnderflow = errors.New("ring buffer underflow")
	// ErrOutOfRange is returned for an index outside the occupied region.
	ErrOutOfRange = errors.New("ring buffer index out of range")
)

// Buffer is a circular FIFO of 32-bit words.
//
// Occupancy is tracked with an explicit count rather than derived from the
// head/tail distance, so all Cap() slots are usable.
type Buffer struct {
	data  []uint32
	head  int
	count int
}

// New creates an empty buffer holding at most capacity words.
// A capacity below 1 is raised to 1.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{data: make([]uint32, capacity)}
}

// NewDefault creates an empty buffer of IOBufferSize words.
func NewDefault() *Buffer {
	return New(IOBufferSize)
}

// Cap returns the fixed capacity in words.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Len returns the number of unread words.
func (b *Buffer) Len() int {
	return b.count
}

// Free returns the number of words that can be appended.
func (b *Buffer) Free() int {
	return len(b.data) - b.count
}

// tail is the next free slot.
func (b *Buffer) tail() int {
	return (b.head + b.count) % len(b.data)
}

// Contiguous returns how many unread words can be read from the head
// without crossing the end of the backing array.
func (b *Buffer) Contiguous() int {
	if b.head+b.count <= len(b.data) {
		return b.count
	}
	return len(b.data) - b.head
}

// Append copies words to the tail of the buffer. If the words do not all
// fit, ErrOverflow is returned and the buffer is left unchanged.
func (b *Buffer) Append(words []uint32) error {
	if len(words) > b.Free() {
		return fmt.Errorf("append %d words with %d free: %w", len(words), b.Free(), ErrOverflow)
	}
	if len(words) == 0 {
		return nil
	}

	tail := b.tail()
	first := copy(b.data[tail:], words)
	if first < len(words) {
		copy(b.data, words[first:])
	}
	b.count += len(words)
	return nil
}

// PushBack appends a single word.
func (b *Buffer) PushBack(word uint32) error {
	if b.Free() == 0 {
		return fmt.Errorf("push with 0 free: %w", ErrOverflow)
	}
	b.data[b.tail()] = word
	b.count++
	return nil
}

// Consume removes exactly len(dst) of the oldest words into dst. If fewer
// words are held, ErrUnderflow is returned and nothing is removed.
func (b *Buffer) Consume(dst []uint32) error {
	if len(dst) > b.count {
		return fmt.Errorf("consume %d words with %d held: %w", len(dst), b.count, ErrUnderflow)
	}
	b.take(dst)
	return nil
}

// Read removes up to len(dst) of the oldest words into dst and returns the
// number of words read.
func (b *Buffer) Read(dst []uint32) int {
	n := min(len(dst), b.count)
	b.take(dst[:n])
	return n
}

// take copies len(dst) words from the head and advances it. The caller
// guarantees len(dst) <= count.
func (b *Buffer) take(dst []uint32) {
	if len(dst) == 0 {
		return
	}
	first := copy(dst, b.data[b.head:min(b.head+len(dst), len(b.data))])
	if first < len(dst) {
		copy(dst[first:], b.data)
	}
	b.head = (b.head + len(dst)) % len(b.data)
	b.count -= len(dst)
	if b.count == 0 {
		b.head = 0
	}
}

// PopFront removes and returns the oldest word.
func (b *Buffer) PopFront() (uint32, error) {
	if b.count == 0 {
		return 0, fmt.Errorf("pop from empty buffer: %w", ErrUnderflow)
	}
	word := b.data[b.head]
	b.head = (b.head + 1) % len(b.data)
	b.count--
	if b.count == 0 {
		b.head = 0
	}
	return word, nil
}

// ValueAt returns the i-th unread word, 0 being the oldest, without
// removing it.
func (b *Buffer) ValueAt(i int) (uint32, error) {
	if i < 0 || i >= b.count {
		return 0, fmt.Errorf("index %d with %d held: %w", i, b.count, ErrOutOfRange)
	}
	return b.data[(b.head+i)%len(b.data)], nil
}

// DeleteFront discards the n oldest words.
func (b *Buffer) DeleteFront(n int) error {
	if n < 0 || n > b.count {
		return fmt.Errorf("delete %d words with %d held: %w", n, b.count, ErrUnderflow)
	}
	b.head = (b.head + n) % len(b.data)
	b.count -= n
	if b.count == 0 {
		b.head = 0
	}
	return nil
}

// Reset discards all unread words.
func (b *Buffer) Reset() {
	b.head = 0
	b.count = 0
}
