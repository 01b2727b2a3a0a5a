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
	"slices"
	"sync/atomic"
	"time"

	spistream "github.com/ZaparooProject/go-spistream"
	"github.com/ZaparooProject/go-spistream/internal/syncutil"
)

var (
	// ErrTooManyErrors stops a session after Config.MaxConsecutiveErrors
	// failed polls in a row.
	ErrTooManyErrors = errors.New("too many consecutive poll errors")
	// ErrSessionClosed is returned by Start on a closed session.
	ErrSessionClosed = errors.New("polling session closed")
	// ErrAlreadyRunning is returned by Start while another Start is active.
	ErrAlreadyRunning = errors.New("polling session already running")
)

// Metrics counts what a session has done since it was created.
type Metrics struct {
	State          string `json:"state"`
	Polls          uint64 `json:"polls"`
	DataPolls      uint64 `json:"data_polls"`
	Errors         uint64 `json:"errors"`
	WordsDelivered uint64 `json:"words_delivered"`
	SleepsDetected uint64 `json:"sleeps_detected"`
	Recoveries     uint64 `json:"recoveries"`
}

// Session keeps a link exchanging packets and hands received words to a
// callback.
type Session struct {
	OnData     func(words []uint32)
	OnError    func(err error)
	config     *Config
	link       *spistream.Link
	recoverer  LinkRecoverer
	log        spistream.Logger
	cancel     context.CancelFunc
	pauseChan  chan struct{}
	resumeChan chan struct{}
	ackChan    chan struct{}
	readBuf    []uint32
	metrics    Metrics
	state      PollState
	stateMutex syncutil.RWMutex
	closed     atomic.Bool
	isPaused   atomic.Bool
	running    atomic.Bool
}

// NewSession creates a session polling link. A nil config uses
// DefaultConfig.
func NewSession(link *spistream.Link, config *Config) (*Session, error) {
	if link == nil {
		return nil, fmt.Errorf("polling session: %w", spistream.ErrInvalidParameter)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("polling session: %w", err)
	}
	return &Session{
		link:       link,
		config:     config,
		log:        spistream.GetLogger().WithFields(map[string]any{"component": "polling"}),
		readBuf:    make([]uint32, config.ReadChunk),
		pauseChan:  make(chan struct{}, 1),
		resumeChan: make(chan struct{}, 1),
		ackChan:    make(chan struct{}, 1),
	}, nil
}

// SetRecoverer installs the strategy used after fatal errors and detected
// host sleep. Without one, a fatal error ends the session.
func (s *Session) SetRecoverer(r LinkRecoverer) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.recoverer = r
}

// SetOnData sets the callback receiving words from the peer
func (s *Session) SetOnData(callback func([]uint32)) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnData = callback
}

// SetOnError sets the callback notified of every failed poll
func (s *Session) SetOnError(callback func(error)) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnError = callback
}

// GetLink returns the link currently being polled
func (s *Session) GetLink() *spistream.Link {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.link
}

// GetState returns the current poll state
func (s *Session) GetState() PollState {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.state
}

// Metrics returns a snapshot of the session counters.
func (s *Session) Metrics() Metrics {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	m := s.metrics
	m.State = s.state.State.String()
	return m
}

// Write stages words on the current link.
func (s *Session) Write(words []uint32) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if err := s.GetLink().Write(words); err != nil {
		return fmt.Errorf("session write: %w", err)
	}
	return nil
}

// Start polls until ctx is cancelled, the session is closed, or the link
// fails in a way the session cannot recover from. It returns nil after
// Close, ctx.Err() on cancellation, and the terminal error otherwise.
func (s *Session) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.stateMutex.Lock()
	s.cancel = cancel
	s.stateMutex.Unlock()

	err := s.runPollingLoop(ctx)

	s.stateMutex.Lock()
	s.state.TransitionToStopped()
	s.cancel = nil
	s.stateMutex.Unlock()

	if s.closed.Load() && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops a running Start and prevents new ones. The link is left
// open; it belongs to the caller.
func (s *Session) Close() error {
	s.closed.Store(true)

	s.stateMutex.Lock()
	cancel := s.cancel
	s.stateMutex.Unlock()
	if cancel != nil {
		cancel()
	}

	s.isPaused.Store(false)

	// Drain pause/resume channels so stale signals do not outlive the session
	select {
	case <-s.pauseChan:
	default:
	}
	select {
	case <-s.resumeChan:
	default:
	}
	return nil
}

// Pause temporarily stops the polling loop after the current poll
func (s *Session) Pause() {
	if s.isPaused.CompareAndSwap(false, true) {
		// Non-blocking: no loop may be running yet, the flag is enough
		select {
		case s.pauseChan <- struct{}{}:
		default:
		}
	}
}

// Resume restarts the polling loop after a pause
func (s *Session) Resume() {
	if s.isPaused.CompareAndSwap(true, false) {
		select {
		case s.resumeChan <- struct{}{}:
		default:
		}
	}
}

// IsPaused reports whether Pause is in effect.
func (s *Session) IsPaused() bool {
	return s.isPaused.Load()
}

// PauseAndWait pauses polling and waits until the loop acknowledges, so no
// exchange is in flight when it returns. If no loop acknowledges within
// 100ms the session is left paused and nil is returned.
func (s *Session) PauseAndWait(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !s.isPaused.CompareAndSwap(false, true) {
		return nil
	}

	select {
	case s.pauseChan <- struct{}{}:
	case <-ctx.Done():
		s.isPaused.Store(false)
		return ctx.Err()
	default:
		return nil
	}

	ackTimeout := time.NewTimer(100 * time.Millisecond)
	defer ackTimeout.Stop()

	select {
	case <-s.ackChan:
		return nil
	case <-ackTimeout.C:
		return nil
	case <-ctx.Done():
		s.isPaused.Store(false)
		return ctx.Err()
	}
}

func (s *Session) runPollingLoop(ctx context.Context) error {
	timer := time.NewTimer(s.config.PollInterval)
	defer timer.Stop()

	for {
		if err := s.handleContextAndPause(ctx); err != nil {
			return err
		}

		if err := s.executePollingCycle(ctx); err != nil {
			return err
		}

		timer.Reset(s.nextInterval())
		if err := s.waitForNextPollOrPause(ctx, timer); err != nil {
			return err
		}
	}
}

// executePollingCycle performs one exchange and delivers whatever arrived
func (s *Session) executePollingCycle(ctx context.Context) error {
	now := time.Now()
	s.checkForSleep(ctx, now)

	link := s.GetLink()
	before := link.Stats()
	pollErr := link.Poll(ctx)
	delivered := s.deliver(link)

	s.stateMutex.Lock()
	s.metrics.Polls++
	s.metrics.WordsDelivered += uint64(delivered)
	s.stateMutex.Unlock()

	done := time.Now()
	if pollErr != nil {
		return s.handlePollingError(ctx, done, pollErr)
	}

	after := link.Stats()
	moved := delivered > 0 ||
		after.WordsSent != before.WordsSent ||
		after.WordsReceived != before.WordsReceived

	s.stateMutex.Lock()
	if moved {
		s.metrics.DataPolls++
		s.state.RecordData(done)
	} else {
		s.state.RecordQuiet(done, s.config.IdleAfter)
	}
	s.stateMutex.Unlock()
	return nil
}

// deliver drains the link's RX buffer into OnData in ReadChunk slices
func (s *Session) deliver(link *spistream.Link) int {
	s.stateMutex.RLock()
	onData := s.OnData
	s.stateMutex.RUnlock()

	total := 0
	for {
		n := link.Read(s.readBuf)
		if n == 0 {
			return total
		}
		total += n
		if onData != nil {
			s.safeCall(func() { onData(slices.Clone(s.readBuf[:n])) }, "OnData")
		}
	}
}

// handlePollingError decides whether a failed poll ends the session
func (s *Session) handlePollingError(ctx context.Context, now time.Time, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.stateMutex.Lock()
	s.metrics.Errors++
	count := s.state.RecordError(now)
	onError := s.OnError
	s.stateMutex.Unlock()

	if onError != nil {
		s.safeCall(func() { onError(err) }, "OnError")
	}

	if spistream.IsFatal(err) {
		s.log.Warnf("fatal link error: %v", err)
		if recErr := s.recover(ctx); recErr != nil {
			return fmt.Errorf("fatal link error: %w (recovery: %w)", err, recErr)
		}
		return nil
	}

	if limit := s.config.MaxConsecutiveErrors; limit > 0 && count >= limit {
		return fmt.Errorf("%w: %d in a row, last: %w", ErrTooManyErrors, count, err)
	}
	s.log.Debugf("poll failed (%d in a row): %v", count, err)
	return nil
}

// checkForSleep triggers recovery when the gap since the last poll is far
// longer than the interval that was scheduled.
func (s *Session) checkForSleep(ctx context.Context, now time.Time) {
	s.stateMutex.RLock()
	last := s.state.LastPoll
	s.stateMutex.RUnlock()
	if last.IsZero() {
		return
	}

	elapsed := now.Sub(last)
	if !s.config.SleepRecovery.DetectSleep(elapsed, s.longestInterval()) {
		return
	}

	s.stateMutex.Lock()
	s.metrics.SleepsDetected++
	s.stateMutex.Unlock()
	s.log.Infof("host sleep detected (%v since last poll), recovering link", elapsed.Round(time.Millisecond))

	if err := s.recover(ctx); err != nil && !errors.Is(err, errNoRecoverer) {
		s.log.Warnf("link recovery after sleep failed: %v", err)
	}
}

var errNoRecoverer = errors.New("no recoverer configured")

// recover replaces the link through the recoverer and resets poll state
func (s *Session) recover(ctx context.Context) error {
	s.stateMutex.RLock()
	r := s.recoverer
	s.stateMutex.RUnlock()
	if r == nil {
		return errNoRecoverer
	}

	if err := r.AttemptRecovery(ctx); err != nil {
		return err
	}

	s.stateMutex.Lock()
	if link := r.GetLink(); link != nil {
		s.link = link
	}
	s.metrics.Recoveries++
	s.state.Reset()
	s.stateMutex.Unlock()
	s.log.Info("link recovered")
	return nil
}

func (s *Session) nextInterval() time.Duration {
	pending := s.GetLink().Pending() > 0
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.state.NextInterval(s.config, pending)
}

func (s *Session) longestInterval() time.Duration {
	return max(s.config.PollInterval, s.config.IdleInterval, s.config.ErrorBackoff)
}

// waitForNextPollOrPause waits for the next poll interval or handles pause signals
func (s *Session) waitForNextPollOrPause(ctx context.Context, timer *time.Timer) error {
	select {
	case <-timer.C:
		return nil
	case <-s.pauseChan:
		return s.handlePauseSignal(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handlePauseSignal sends acknowledgment and waits for resume
func (s *Session) handlePauseSignal(ctx context.Context) error {
	select {
	case s.ackChan <- struct{}{}:
	default:
	}
	return s.waitForResume(ctx)
}

func (s *Session) handleContextAndPause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.pauseChan:
		return s.handlePauseSignal(ctx)
	default:
		return nil
	}
}

func (s *Session) waitForResume(ctx context.Context) error {
	select {
	case <-s.resumeChan:
		// A pause is not a sleep
		s.stateMutex.Lock()
		s.state.LastPoll = time.Time{}
		s.stateMutex.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// safeCall runs a user callback, turning a panic into a logged error
func (s *Session) safeCall(fn func(), name string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("%s callback panicked: %v", name, r)
		}
	}()
	fn()
}
