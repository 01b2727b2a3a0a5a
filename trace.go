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
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// maxTraceWords bounds how much of a buffer a trace line shows.
const maxTraceWords = 16

// TraceDirection tells which way traced bytes crossed the wire.
type TraceDirection string

const (
	// TraceTX is data clocked out by the master
	TraceTX TraceDirection = "TX"
	// TraceRX is data clocked in from the peer
	TraceRX TraceDirection = "RX"
)

// TraceEntry is one encoded buffer as it crossed the wire.
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

func (e TraceEntry) String() string {
	line := fmt.Sprintf("%s %s %s", e.Timestamp.Format("15:04:05.000"), e.Direction, formatWireWords(e.Data))
	if e.Note != "" {
		line += " (" + e.Note + ")"
	}
	return line
}

// TraceableError carries the wire data of a failed exchange. Retrieve it
// with GetTrace:
//
//	if trace := spistream.GetTrace(err); trace != nil {
//	    log.Print(trace.FormatTrace())
//	}
type TraceableError struct {
	Err       error
	Transport string
	Port      string
	Trace     []TraceEntry
}

func (e *TraceableError) Error() string {
	return e.Err.Error()
}

func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace renders the trace one buffer per line, oldest first.
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("%s %s: no wire data", e.Transport, e.Port)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%s %s: %d buffers\n", e.Transport, e.Port, len(e.Trace))
	for _, entry := range e.Trace {
		_, _ = fmt.Fprintf(&sb, "  %s\n", entry)
	}
	return sb.String()
}

// formatWireWords shows data as the little-endian words the link exchanges.
// Bytes left over after the last whole word are shown individually.
func formatWireWords(data []byte) string {
	if len(data) == 0 {
		return "-"
	}

	words := len(data) / 4
	parts := make([]string, 0, min(words, maxTraceWords)+len(data)%4)
	for i := range min(words, maxTraceWords) {
		parts = append(parts, fmt.Sprintf("%08X", binary.LittleEndian.Uint32(data[i*4:])))
	}
	if words > maxTraceWords {
		return strings.Join(parts, " ") + fmt.Sprintf(" ... %d words", words)
	}
	for _, b := range data[words*4:] {
		parts = append(parts, fmt.Sprintf("%02X", b))
	}
	return strings.Join(parts, " ")
}

// TraceBuffer keeps the last few buffers a transport moved, overwriting the
// oldest once full. It is not safe for concurrent use; transports create
// one per exchange under their own lock.
type TraceBuffer struct {
	transport string
	port      string
	entries   []TraceEntry
	next      int
	wrapped   bool
}

// NewTraceBuffer creates a buffer holding up to size entries.
func NewTraceBuffer(transport, port string, size int) *TraceBuffer {
	if size <= 0 {
		size = 8
	}
	return &TraceBuffer{
		transport: transport,
		port:      port,
		entries:   make([]TraceEntry, size),
	}
}

// RecordTX records an encoded buffer sent to the peer.
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records bytes received from the peer, possibly a partial packet.
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	tb.entries[tb.next] = TraceEntry{
		Timestamp: time.Now(),
		Direction: dir,
		Note:      note,
		Data:      append([]byte(nil), data...),
	}
	tb.next = (tb.next + 1) % len(tb.entries)
	if tb.next == 0 {
		tb.wrapped = true
	}
}

// Entries returns the recorded entries, oldest first.
func (tb *TraceBuffer) Entries() []TraceEntry {
	if !tb.wrapped {
		return append([]TraceEntry(nil), tb.entries[:tb.next]...)
	}
	out := make([]TraceEntry, 0, len(tb.entries))
	out = append(out, tb.entries[tb.next:]...)
	return append(out, tb.entries[:tb.next]...)
}

// WrapError attaches the recorded entries to err. It returns nil for a nil
// error.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &TraceableError{
		Err:       err,
		Transport: tb.transport,
		Port:      tb.port,
		Trace:     tb.Entries(),
	}
}

// GetTrace returns the trace carried by err, or nil.
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
