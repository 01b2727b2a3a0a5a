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

package polling

import "time"

// LinkState represents the finite state machine driving the poll rate
type LinkState int

const (
	// StateIdle means recent polls carried no data in either direction.
	StateIdle LinkState = iota
	// StateActive means data moved recently; poll at full rate.
	StateActive
	// StateBackoff follows a failed poll.
	StateBackoff
	// StateStopped is terminal; the session loop has exited.
	StateStopped
)

func (s LinkState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PollState tracks the recent history of a polling session
type PollState struct {
	LastPoll          time.Time
	LastData          time.Time
	State             LinkState
	ConsecutiveErrors int
	QuietPolls        int
}

// RecordData notes a poll that moved payload words.
func (ps *PollState) RecordData(now time.Time) {
	ps.State = StateActive
	ps.LastPoll = now
	ps.LastData = now
	ps.ConsecutiveErrors = 0
	ps.QuietPolls = 0
}

// RecordQuiet notes a successful poll that carried nothing. After
// idleAfter such polls in a row the state drops to idle.
func (ps *PollState) RecordQuiet(now time.Time, idleAfter int) {
	ps.LastPoll = now
	ps.ConsecutiveErrors = 0
	ps.QuietPolls++
	if ps.QuietPolls >= idleAfter {
		ps.State = StateIdle
	} else {
		ps.State = StateActive
	}
}

// RecordError notes a failed poll and returns the consecutive failure count.
func (ps *PollState) RecordError(now time.Time) int {
	ps.State = StateBackoff
	ps.LastPoll = now
	ps.ConsecutiveErrors++
	return ps.ConsecutiveErrors
}

// TransitionToStopped marks the session finished
func (ps *PollState) TransitionToStopped() {
	ps.State = StateStopped
}

// Reset returns to the initial idle state, keeping LastPoll so sleep
// detection still has a reference point.
func (ps *PollState) Reset() {
	ps.State = StateIdle
	ps.ConsecutiveErrors = 0
	ps.QuietPolls = 0
	ps.LastData = time.Time{}
}

// NextInterval returns how long to wait before the next poll. pending
// reports whether the link has words staged for sending.
func (ps *PollState) NextInterval(cfg *Config, pending bool) time.Duration {
	switch {
	case ps.State == StateBackoff:
		return cfg.ErrorBackoff
	case pending, ps.State == StateActive, cfg.IdleInterval == 0:
		return cfg.PollInterval
	default:
		return cfg.IdleInterval
	}
}
