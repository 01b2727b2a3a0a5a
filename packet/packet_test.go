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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketAccessors(t *testing.T) {
	t.Parallel()

	p := New(DefaultWords)
	p[IDIndex] = 0xBEEF
	p[LengthIndex] = 3
	copy(p[PayloadIndex:], []uint32{7, 8, 9})
	require.NoError(t, AddChecksum(p))

	assert.Equal(t, uint32(0xBEEF), p.ID())
	assert.Equal(t, uint32(3), p.Len())
	assert.Equal(t, []uint32{7, 8, 9}, p.Payload())
	assert.Equal(t, p[DefaultWords-1], p.Checksum())
	assert.True(t, p.Valid())
}

func TestPacketAccessors_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    Packet
	}{
		{name: "empty", p: Packet{}},
		{name: "id only", p: Packet{1}},
		{name: "length too large", p: Packet{1, 2, 0}},
		{name: "length wraps int", p: Packet{1, 0xFFFFFFFF, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Nil(t, tt.p.Payload())
			assert.False(t, tt.p.Valid())
			assert.NotPanics(t, func() {
				_ = tt.p.ID()
				_ = tt.p.Len()
				_ = tt.p.Checksum()
			})
		})
	}
}

func TestMaxPayload(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 7, MaxPayload(DefaultWords))
	assert.Equal(t, 0, MaxPayload(MinWords))
	assert.Equal(t, 0, MaxPayload(1))
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	words := []uint32{0xBEEF, 1, Sentinel}
	buf := make([]byte, EncodedSize(len(words)))
	n, err := Encode(buf, words)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, []byte{
		0xEF, 0xBE, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00,
		0xEF, 0xBE, 0xAD, 0xDE,
	}, buf)

	out := make([]uint32, len(words))
	require.NoError(t, Decode(out, buf))
	assert.Equal(t, words, out)
}

func TestEncodeDecode_ShortBuffers(t *testing.T) {
	t.Parallel()

	_, err := Encode(make([]byte, 7), []uint32{1, 2})
	require.ErrorIs(t, err, ErrPacketTooShort)

	err = Decode(make([]uint32, 2), make([]byte, 5))
	require.ErrorIs(t, err, ErrPacketTooShort)
}

func TestBufferPool(t *testing.T) {
	t.Parallel()

	pool := NewBufferPool()
	for _, size := range []int{1, FrameBufferSize, FrameBufferSize + 1, LargeBufferSize, LargeBufferSize + 1} {
		buf := pool.GetBuffer(size)
		assert.Len(t, buf, size)
		for i := range buf {
			buf[i] = 0xAA
		}
		pool.PutBuffer(buf)
	}

	buf := pool.GetBuffer(FrameBufferSize)
	for _, b := range buf {
		assert.Equal(t, byte(0), b, "pooled buffers come back zeroed")
	}
	pool.PutBuffer(nil)
}
