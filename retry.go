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
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// Exchange retry defaults. A single exchange is one packet on the bus, so
// backoff starts short and the overall budget stays well under a typical
// poll interval multiple.
const (
	DefaultExchangeRetries           = 3
	DefaultExchangeInitialBackoff    = 2 * time.Millisecond
	DefaultExchangeMaxBackoff        = 50 * time.Millisecond
	DefaultExchangeBackoffMultiplier = 2.0
	DefaultExchangeJitter            = 0.1
	DefaultExchangeRetryTimeout      = 500 * time.Millisecond
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (0 = no retry)
	MaxAttempts int
	// InitialBackoff is the initial backoff duration
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which the backoff increases
	BackoffMultiplier float64
	// Jitter adds up to this fraction of the backoff at random
	Jitter float64
	// RetryTimeout is the overall timeout for all retry attempts
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns the retry configuration used for exchanges
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultExchangeRetries,
		InitialBackoff:    DefaultExchangeInitialBackoff,
		MaxBackoff:        DefaultExchangeMaxBackoff,
		BackoffMultiplier: DefaultExchangeBackoffMultiplier,
		Jitter:            DefaultExchangeJitter,
		RetryTimeout:      DefaultExchangeRetryTimeout,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// RetryWithConfig runs retryFunc until it succeeds, returns an error that
// IsRetryable rejects, or the attempt or time budget runs out. The last
// error seen is returned.
func RetryWithConfig(ctx context.Context, config *RetryConfig, retryFunc RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts <= 0 {
		return retryFunc()
	}

	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	var lastErr error
	backoff := config.InitialBackoff
	for attempt := range config.MaxAttempts {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("retry context cancelled: %w", ctx.Err())
		default:
		}

		err := retryFunc()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err

		if attempt == config.MaxAttempts-1 {
			break
		}
		timer := time.NewTimer(jitteredSleep(backoff, config.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
		backoff = nextBackoff(backoff, config)
	}
	return lastErr
}

func nextBackoff(backoff time.Duration, config *RetryConfig) time.Duration {
	next := time.Duration(float64(backoff) * config.BackoffMultiplier)
	if next > config.MaxBackoff {
		return config.MaxBackoff
	}
	return next
}

// jitteredSleep adds up to jitterFactor*base of random delay
func jitteredSleep(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}
	var randBytes [8]byte
	if _, err := rand.Read(randBytes[:]); err != nil {
		return base
	}
	randFloat := float64(binary.LittleEndian.Uint64(randBytes[:])) / float64(1<<64)
	return base + time.Duration(randFloat*float64(base)*jitterFactor)
}
