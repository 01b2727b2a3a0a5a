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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryConfig_DefaultRetryConfig(t *testing.T) {
	t.Parallel()

	config := DefaultRetryConfig()

	assert.NotNil(t, config)
	assert.Positive(t, config.MaxAttempts)
	assert.Greater(t, config.MaxBackoff, config.InitialBackoff)
	assert.Greater(t, config.BackoffMultiplier, 1.0)
	assert.GreaterOrEqual(t, config.Jitter, 0.0)
	assert.LessOrEqual(t, config.Jitter, 1.0)
	assert.Greater(t, config.RetryTimeout, time.Duration(0))
}

func TestNextBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		config   *RetryConfig
		name     string
		current  time.Duration
		expected time.Duration
	}{
		{
			name:     "Normal exponential growth",
			current:  2 * time.Millisecond,
			config:   &RetryConfig{BackoffMultiplier: 2.0, MaxBackoff: time.Second},
			expected: 4 * time.Millisecond,
		},
		{
			name:     "Hits maximum backoff limit",
			current:  40 * time.Millisecond,
			config:   &RetryConfig{BackoffMultiplier: 2.0, MaxBackoff: 50 * time.Millisecond},
			expected: 50 * time.Millisecond,
		},
		{
			name:     "Fractional multiplier",
			current:  200 * time.Millisecond,
			config:   &RetryConfig{BackoffMultiplier: 1.5, MaxBackoff: 10 * time.Second},
			expected: 300 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, nextBackoff(tt.current, tt.config))
		})
	}
}

func TestJitteredSleep(t *testing.T) {
	t.Parallel()

	base := 10 * time.Millisecond
	assert.Equal(t, base, jitteredSleep(base, 0))

	for range 100 {
		got := jitteredSleep(base, 0.5)
		assert.GreaterOrEqual(t, got, base)
		assert.LessOrEqual(t, got, base+base/2)
	}
}

func fastRetryConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		BackoffMultiplier: 2.0,
		RetryTimeout:      time.Second,
	}
}

func TestRetryWithConfig_SucceedsAfterTransientErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryWithConfig(context.Background(), fastRetryConfig(3), func() error {
		calls++
		if calls < 3 {
			return NewTransportReadError("Exchange", "test")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithConfig_StopsOnPermanentError(t *testing.T) {
	t.Parallel()

	calls := 0
	permanent := NewTransportClosedError("Exchange", "test")
	err := RetryWithConfig(context.Background(), fastRetryConfig(5), func() error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, ErrTransportClosed)
	assert.Equal(t, 1, calls)
}

func TestRetryWithConfig_ReturnsLastErrorWhenExhausted(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryWithConfig(context.Background(), fastRetryConfig(4), func() error {
		calls++
		return NewTimeoutError("Exchange", "test")
	})
	require.ErrorIs(t, err, ErrTransportTimeout)
	assert.Equal(t, 4, calls)
}

func TestRetryWithConfig_NoRetryWhenDisabled(t *testing.T) {
	t.Parallel()

	calls := 0
	sentinel := errors.New("boom")
	err := RetryWithConfig(context.Background(), &RetryConfig{}, func() error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestRetryWithConfig_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryWithConfig(ctx, fastRetryConfig(3), func() error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}
