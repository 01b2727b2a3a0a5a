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

package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	spistream "github.com/ZaparooProject/go-spistream"
	"github.com/ZaparooProject/go-spistream/internal/syncutil"
	"github.com/ZaparooProject/go-spistream/polling"
	jsoniter "github.com/json-iterator/go"
)

// reportContext is how many words around a mismatch go into a crash report.
const reportContext = 8

// errEchoMismatch is returned when the peer echoed something other than
// what was sent.
var errEchoMismatch = errors.New("echo mismatch")

// StressResult summarizes one stress run.
type StressResult struct {
	CrashFile string
	Sent      int
	Received  int
	Duration  time.Duration
	Success   bool
}

// CrashReport contains all information for debugging a failed run.
type CrashReport struct {
	Timestamp   time.Time       `json:"timestamp"`
	Error       string          `json:"error"`
	ExpectedHex []string        `json:"expected_hex,omitempty"`
	ActualHex   []string        `json:"actual_hex,omitempty"`
	LinkStats   spistream.Stats `json:"link_stats"`
	Session     polling.Metrics `json:"session"`
	Index       int             `json:"index"`
	Sent        int             `json:"sent"`
	Received    int             `json:"received"`
}

func printStressTestBanner(w io.Writer, n int) {
	_, _ = fmt.Fprintln(w, "================================================================================")
	_, _ = fmt.Fprintln(w, "                         spistream Link Stress Test")
	_, _ = fmt.Fprintln(w, "================================================================================")
	_, _ = fmt.Fprintf(w, "Sending %d random words; the peer must echo them back in order\n", n)
}

func randomWords(n int) ([]uint32, error) {
	buf := make([]byte, n*4)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate test words: %w", err)
	}
	words := make([]uint32, n)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return words, nil
}

func runStressMode(ctx context.Context, session *polling.Session, n int) error {
	words, err := randomWords(n)
	if err != nil {
		return err
	}
	printStressTestBanner(os.Stdout, n)

	result, err := runStress(ctx, session, words, ".")
	printStressSummary(os.Stdout, result)
	return err
}

// runStress writes words through the session and checks the echo. On a
// mismatch or timeout a crash report is written into reportDir.
func runStress(ctx context.Context, session *polling.Session, words []uint32, reportDir string) (*StressResult, error) {
	var (
		received []uint32
		mu       syncutil.Mutex
	)
	progress := make(chan struct{}, 1)
	session.SetOnData(func(chunk []uint32) {
		mu.Lock()
		received = append(received, chunk...)
		mu.Unlock()
		select {
		case progress <- struct{}{}:
		default:
		}
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- session.Start(runCtx)
	}()

	start := time.Now()
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writeWords(runCtx, session, words)
	}()

	// Generous: every word needs a poll to leave and one to come back
	deadline := time.NewTimer(10*time.Second + time.Duration(len(words))*time.Millisecond)
	defer deadline.Stop()

	snapshot := func() []uint32 {
		mu.Lock()
		defer mu.Unlock()
		return append([]uint32(nil), received...)
	}

	var runErr error
wait:
	for {
		select {
		case <-progress:
			got := snapshot()
			if idx := firstMismatch(words, got); idx >= 0 {
				runErr = fmt.Errorf("%w at word %d", errEchoMismatch, idx)
				break wait
			}
			if len(got) >= len(words) {
				break wait
			}
		case err := <-writeErr:
			if err != nil {
				runErr = fmt.Errorf("write failed: %w", err)
				break wait
			}
		case err := <-done:
			runErr = fmt.Errorf("polling stopped: %w", err)
			if err == nil {
				runErr = errors.New("polling stopped")
			}
			done <- err
			break wait
		case <-deadline.C:
			runErr = fmt.Errorf("timed out with %d of %d words echoed", len(snapshot()), len(words))
			break wait
		case <-ctx.Done():
			runErr = ctx.Err()
			break wait
		}
	}

	cancel()
	<-done

	got := snapshot()
	result := &StressResult{
		Sent:     len(words),
		Received: len(got),
		Duration: time.Since(start),
		Success:  runErr == nil,
	}
	if runErr == nil || errors.Is(runErr, context.Canceled) {
		return result, runErr
	}

	report := createCrashReport(runErr, words, got, session)
	file, err := writeCrashReportToFile(report, reportDir)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
	}
	result.CrashFile = file
	return result, runErr
}

// firstMismatch returns the index of the first received word that differs
// from what was sent, or -1.
func firstMismatch(sent, got []uint32) int {
	for i := range min(len(sent), len(got)) {
		if sent[i] != got[i] {
			return i
		}
	}
	if len(got) > len(sent) {
		return len(sent)
	}
	return -1
}

func createCrashReport(runErr error, sent, got []uint32, session *polling.Session) *CrashReport {
	idx := firstMismatch(sent, got)
	if idx < 0 {
		idx = len(got)
	}
	lo := max(0, idx-reportContext)

	return &CrashReport{
		Timestamp:   time.Now(),
		Error:       runErr.Error(),
		Index:       idx,
		Sent:        len(sent),
		Received:    len(got),
		ExpectedHex: formatHexWords(sent[lo:min(len(sent), idx+reportContext)]),
		ActualHex:   formatHexWords(got[min(lo, len(got)):min(len(got), idx+reportContext)]),
		LinkStats:   session.GetLink().Stats(),
		Session:     session.Metrics(),
	}
}

func formatHexWords(words []uint32) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = fmt.Sprintf("%08X", w)
	}
	return out
}

func writeCrashReportToFile(report *CrashReport, dir string) (string, error) {
	timestamp := report.Timestamp.Format("20060102_150405")
	filename := filepath.Join(dir, fmt.Sprintf("stress_test_crash_%s.json", timestamp))

	data, err := jsoniter.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal crash report: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write crash report: %w", err)
	}

	return filename, nil
}

func printStressSummary(w io.Writer, result *StressResult) {
	if result == nil {
		return
	}

	status := "PASS"
	if !result.Success {
		status = "FAIL"
	}

	rate := 0.0
	if secs := result.Duration.Seconds(); secs > 0 {
		rate = float64(result.Received) / secs
	}

	_, _ = fmt.Fprintln(w, "================================================================================")
	_, _ = fmt.Fprintf(w, "[%s] %d/%d words echoed in %s (%.0f words/s)\n",
		status,
		result.Received,
		result.Sent,
		result.Duration.Round(time.Millisecond),
		rate,
	)
	if result.CrashFile != "" {
		_, _ = fmt.Fprintf(w, "Crash report written: %s\n", result.CrashFile)
	}
	_, _ = fmt.Fprintln(w, "================================================================================")
}
