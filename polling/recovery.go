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
	"context"
	"errors"
	"fmt"
	"time"

	spistream "github.com/ZaparooProject/go-spistream"
	"github.com/ZaparooProject/go-spistream/internal/syncutil"
)

// ErrNoReopen is returned by DefaultRecoverer when it has no way to reopen
// the link.
var ErrNoReopen = errors.New("no reopen function configured")

// LinkRecoverer handles link recovery after sleep/wake or fatal errors
type LinkRecoverer interface {
	// AttemptRecovery tries to bring the link back.
	// Returns nil if recovery was successful, error otherwise.
	AttemptRecovery(ctx context.Context) error

	// GetLink returns the current link (may change after reconnection)
	GetLink() *spistream.Link
}

// ReopenFunc opens a fresh link, typically on the same device path.
type ReopenFunc func() (*spistream.Link, error)

// linkCheckTimeout bounds the heartbeat used to test the current link.
const linkCheckTimeout = time.Second

// DefaultRecoverer recovers in two tiers:
// 1. A heartbeat on the current link, which is kept if the peer answers
// 2. Closing the link and reopening it through a user-provided function,
// retrying with a fixed backoff
type DefaultRecoverer struct {
	link        *spistream.Link
	reopenFunc  ReopenFunc
	backoff     time.Duration
	maxAttempts int
	mu          syncutil.Mutex
}

// NewDefaultRecoverer creates a recoverer for link. If reopenFunc is nil
// every recovery attempt fails with ErrNoReopen.
func NewDefaultRecoverer(
	link *spistream.Link,
	reopenFunc ReopenFunc,
	backoff time.Duration,
	maxAttempts int,
) *DefaultRecoverer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &DefaultRecoverer{
		link:        link,
		reopenFunc:  reopenFunc,
		backoff:     backoff,
		maxAttempts: maxAttempts,
	}
}

// AttemptRecovery keeps the current link if it still completes an exchange.
// Otherwise it closes the link and tries up to maxAttempts times to open a
// new one. Words staged on a replaced link are lost.
func (r *DefaultRecoverer) AttemptRecovery(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.link != nil {
		err := r.checkLink(ctx)
		if err == nil {
			return nil
		}
		spistream.Debugf("polling: current link failed heartbeat: %v", err)
	}

	if r.reopenFunc == nil {
		return ErrNoReopen
	}
	if r.link != nil {
		_ = r.link.Close()
	}

	var lastErr error
	for attempt := range r.maxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff):
			}
		}

		link, err := r.reopenFunc()
		if err == nil {
			r.link = link
			return nil
		}
		lastErr = err
		spistream.Debugf("polling: reopen attempt %d/%d failed: %v", attempt+1, r.maxAttempts, err)
	}

	return fmt.Errorf("reopen failed after %d attempts: %w", r.maxAttempts, lastErr)
}

func (r *DefaultRecoverer) checkLink(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, linkCheckTimeout)
	defer cancel()
	return r.link.Poll(checkCtx)
}

// GetLink returns the current link.
// This may return a different link after a successful reconnection.
func (r *DefaultRecoverer) GetLink() *spistream.Link {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.link
}
