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

package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newWrapped returns a buffer whose head sits at the given index, so the
// next append starts there.
func newWrapped(capacity, head int) *Buffer {
	b := New(capacity)
	b.head = head
	return b
}

func seq(from, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(from + i)
	}
	return out
}

func TestNew(t *testing.T) {
	t.Parallel()

	b := New(8)
	assert.Equal(t, 8, b.Cap())
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 8, b.Free())

	assert.Equal(t, IOBufferSize, NewDefault().Cap())
	assert.Equal(t, 1, New(0).Cap(), "capacity is clamped to 1")
}

func TestAppendConsume_FIFOOrder(t *testing.T) {
	t.Parallel()

	b := New(16)
	require.NoError(t, b.Append([]uint32{1, 2, 3, 4, 5}))
	require.NoError(t, b.Append([]uint32{6, 7}))
	assert.Equal(t, 7, b.Len())
	assert.Equal(t, 9, b.Free())

	dst := make([]uint32, 4)
	require.NoError(t, b.Consume(dst))
	assert.Equal(t, []uint32{1, 2, 3, 4}, dst)

	dst = make([]uint32, 3)
	require.NoError(t, b.Consume(dst))
	assert.Equal(t, []uint32{5, 6, 7}, dst)
	assert.Equal(t, 0, b.Len())
}

func TestAppend_FillsToCapacity(t *testing.T) {
	t.Parallel()

	b := New(8)
	require.NoError(t, b.Append(seq(0, 8)))
	assert.Equal(t, 0, b.Free())
	assert.Equal(t, 8, b.Len())

	err := b.PushBack(99)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestAppend_OverflowIsAtomic(t *testing.T) {
	t.Parallel()

	b := New(10)
	require.NoError(t, b.Append(seq(100, 6)))

	err := b.Append(seq(0, 5))
	require.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, 6, b.Len())
	assert.Equal(t, 4, b.Free())

	dst := make([]uint32, 6)
	require.NoError(t, b.Consume(dst))
	assert.Equal(t, seq(100, 6), dst, "contents untouched by rejected append")
}

func TestConsume_UnderflowIsAtomic(t *testing.T) {
	t.Parallel()

	b := New(10)
	require.NoError(t, b.Append([]uint32{7, 8}))

	dst := []uint32{0xAA, 0xAA, 0xAA}
	err := b.Consume(dst)
	require.ErrorIs(t, err, ErrUnderflow)
	assert.Equal(t, []uint32{0xAA, 0xAA, 0xAA}, dst)
	assert.Equal(t, 2, b.Len())
}

func TestWraparound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		capacity int
		head     int
		count    int
	}{
		{name: "append crosses end", capacity: 8, head: 6, count: 5},
		{name: "append ends exactly at end", capacity: 8, head: 3, count: 5},
		{name: "append starts at last slot", capacity: 8, head: 7, count: 8},
		{name: "full buffer from middle", capacity: 5, head: 2, count: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := newWrapped(tt.capacity, tt.head)
			words := seq(1, tt.count)
			require.NoError(t, b.Append(words))
			assert.Equal(t, tt.count, b.Len())
			assert.Equal(t, tt.capacity-tt.count, b.Free())

			for i, want := range words {
				got, err := b.ValueAt(i)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}

			dst := make([]uint32, tt.count)
			require.NoError(t, b.Consume(dst))
			assert.Equal(t, words, dst)
			assert.Equal(t, tt.capacity, b.Free())
		})
	}
}

func TestContiguous(t *testing.T) {
	t.Parallel()

	b := newWrapped(8, 6)
	require.NoError(t, b.Append(seq(0, 5)))
	assert.Equal(t, 2, b.Contiguous())

	require.NoError(t, b.DeleteFront(2))
	assert.Equal(t, 3, b.Contiguous())
}

func TestRead_Partial(t *testing.T) {
	t.Parallel()

	b := New(8)
	require.NoError(t, b.Append([]uint32{1, 2, 3}))

	dst := make([]uint32, 5)
	n := b.Read(dst)
	assert.Equal(t, 3, n)
	assert.Equal(t, []uint32{1, 2, 3}, dst[:n])
	assert.Equal(t, 0, b.Len())

	assert.Equal(t, 0, b.Read(dst))
}

func TestPushPop(t *testing.T) {
	t.Parallel()

	b := New(3)
	require.NoError(t, b.PushBack(10))
	require.NoError(t, b.PushBack(11))

	w, err := b.PopFront()
	require.NoError(t, err)
	assert.Equal(t, uint32(10), w)

	require.NoError(t, b.PushBack(12))
	require.NoError(t, b.PushBack(13))
	assert.Equal(t, 0, b.Free())

	for _, want := range []uint32{11, 12, 13} {
		w, err = b.PopFront()
		require.NoError(t, err)
		assert.Equal(t, want, w)
	}

	_, err = b.PopFront()
	require.ErrorIs(t, err, ErrUnderflow)
}

func TestValueAt_OutOfRange(t *testing.T) {
	t.Parallel()

	b := New(4)
	require.NoError(t, b.Append([]uint32{1}))

	_, err := b.ValueAt(1)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = b.ValueAt(-1)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestDeleteFront(t *testing.T) {
	t.Parallel()

	b := New(4)
	require.NoError(t, b.Append([]uint32{1, 2, 3}))

	require.ErrorIs(t, b.DeleteFront(4), ErrUnderflow)
	assert.Equal(t, 3, b.Len())

	require.NoError(t, b.DeleteFront(2))
	w, err := b.PopFront()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), w)
}

func TestReset(t *testing.T) {
	t.Parallel()

	b := newWrapped(4, 3)
	require.NoError(t, b.Append([]uint32{1, 2}))
	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 4, b.Free())
}

// FuzzRingAppendConsume checks the buffer against a plain slice model.
func FuzzRingAppendConsume(f *testing.F) {
	f.Add(uint8(8), uint8(3), []byte{5, 3, 4, 7, 1})
	f.Add(uint8(1), uint8(0), []byte{1, 1, 2})
	f.Add(uint8(16), uint8(15), []byte{16, 17, 8, 9})

	f.Fuzz(func(t *testing.T, capacity, head uint8, ops []byte) {
		if capacity == 0 {
			capacity = 1
		}
		b := newWrapped(int(capacity), int(head)%int(capacity))
		var model []uint32
		next := uint32(0)

		for i, op := range ops {
			n := int(op >> 1)
			if op&1 == 0 {
				words := make([]uint32, n)
				for j := range words {
					words[j] = next
					next++
				}
				err := b.Append(words)
				if n > int(capacity)-len(model) {
					require.ErrorIs(t, err, ErrOverflow, "op %d", i)
				} else {
					require.NoError(t, err, "op %d", i)
					model = append(model, words...)
				}
			} else {
				dst := make([]uint32, n)
				err := b.Consume(dst)
				if n > len(model) {
					require.ErrorIs(t, err, ErrUnderflow, "op %d", i)
				} else {
					require.NoError(t, err, "op %d", i)
					if n > 0 {
						require.Equal(t, model[:n], dst, "op %d", i)
					}
					model = model[n:]
				}
			}
			require.Equal(t, len(model), b.Len())
			require.Equal(t, b.Cap(), b.Len()+b.Free())
		}
	})
}
