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

import (
	"fmt"
	"time"
)

// SleepRecoveryConfig configures automatic recovery after host sleep/wake
type SleepRecoveryConfig struct {
	// Enabled enables sleep detection and recovery attempts
	Enabled bool

	// TimeDiscontinuityThreshold is the minimum elapsed time beyond the expected
	// poll interval that indicates a sleep occurred. Default: 2 seconds
	TimeDiscontinuityThreshold time.Duration

	// MaxRecoveryAttempts is the number of reopen attempts before the
	// link is given up on. Default: 3
	MaxRecoveryAttempts int

	// RecoveryBackoff is the delay between recovery attempts
	RecoveryBackoff time.Duration
}

// DefaultSleepRecoveryConfig returns sensible defaults for sleep recovery
func DefaultSleepRecoveryConfig() SleepRecoveryConfig {
	return SleepRecoveryConfig{
		Enabled:                    true,
		TimeDiscontinuityThreshold: 2 * time.Second,
		MaxRecoveryAttempts:        3,
		RecoveryBackoff:            500 * time.Millisecond,
	}
}

// DetectSleep checks if the elapsed time since last poll indicates a system sleep.
// Returns true if elapsed time exceeds (pollInterval + TimeDiscontinuityThreshold).
func (cfg SleepRecoveryConfig) DetectSleep(elapsed, pollInterval time.Duration) bool {
	if !cfg.Enabled {
		return false
	}
	return elapsed > pollInterval+cfg.TimeDiscontinuityThreshold
}

// Config holds polling configuration options
type Config struct {
	// PollInterval is the delay between polls while data is flowing or
	// words are waiting to be sent.
	PollInterval time.Duration
	// IdleInterval is used once IdleAfter polls in a row carried nothing.
	// Zero keeps polling at PollInterval.
	IdleInterval time.Duration
	IdleAfter    int
	// ErrorBackoff is the delay after a failed poll.
	ErrorBackoff time.Duration
	// MaxConsecutiveErrors stops the session once that many polls in a row
	// have failed. Zero means never give up on non-fatal errors.
	MaxConsecutiveErrors int
	// ReadChunk is the largest slice handed to OnData at once, in words.
	ReadChunk int
	// SleepRecovery configures automatic recovery after host sleep/wake cycles
	SleepRecovery SleepRecoveryConfig
}

// DefaultConfig returns the default polling configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval:         10 * time.Millisecond,
		IdleInterval:         100 * time.Millisecond,
		IdleAfter:            20,
		ErrorBackoff:         50 * time.Millisecond,
		MaxConsecutiveErrors: 10,
		ReadChunk:            64,
		SleepRecovery:        DefaultSleepRecoveryConfig(),
	}
}

// Validate reports settings the session cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.PollInterval <= 0:
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	case c.IdleInterval < 0:
		return fmt.Errorf("idle interval must not be negative, got %v", c.IdleInterval)
	case c.ErrorBackoff < 0:
		return fmt.Errorf("error backoff must not be negative, got %v", c.ErrorBackoff)
	case c.MaxConsecutiveErrors < 0:
		return fmt.Errorf("max consecutive errors must not be negative, got %d", c.MaxConsecutiveErrors)
	case c.ReadChunk < 1:
		return fmt.Errorf("read chunk must be at least 1 word, got %d", c.ReadChunk)
	}
	return nil
}
