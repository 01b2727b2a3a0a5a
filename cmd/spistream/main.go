// go-spistream
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-spistream.
//
// go-spistream is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-spistream is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-spistream; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	spistream "github.com/ZaparooProject/go-spistream"
	"github.com/ZaparooProject/go-spistream/detection"
	"github.com/ZaparooProject/go-spistream/internal/config"
	testutil "github.com/ZaparooProject/go-spistream/internal/testing"
	"github.com/ZaparooProject/go-spistream/polling"
	"github.com/ZaparooProject/go-spistream/transport/spi"
	"github.com/ZaparooProject/go-spistream/transport/uart"
	jsoniter "github.com/json-iterator/go"
	"periph.io/x/conn/v3/physic"
	periphspi "periph.io/x/conn/v3/spi"
)

// flags holds the command line; file settings are overridden by the
// flags that were set.
type flags struct {
	configPath string
	devicePath string
	transport  string
	stress     int
	loopback   bool
	debug      bool
	stats      bool
	list       bool
}

// Package-level flag variables
var (
	flagConfigPath string
	flagDevicePath string
	flagTransport  string
	flagStress     int
	flagLoopback   bool
	flagDebug      bool
	flagStats      bool
	flagList       bool
)

func init() {
	flag.StringVar(&flagConfigPath, "config", "", "YAML configuration file")
	flag.StringVar(&flagDevicePath, "device", "", "Device path, e.g. SPI0.0 or /dev/ttyUSB0; detected when empty")
	flag.StringVar(&flagTransport, "transport", "", "Transport: spi, uart or loopback")
	flag.IntVar(&flagStress, "stress", 0, "Send this many random words and verify the peer echoes them")
	flag.BoolVar(&flagLoopback, "loopback", false, "Run against an in-process echoing peer")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.BoolVar(&flagStats, "stats", false, "Print link statistics as JSON on exit")
	flag.BoolVar(&flagList, "list", false, "List candidate SPI and serial ports and exit")
}

func parseFlags() *flags {
	return &flags{
		configPath: flagConfigPath,
		devicePath: flagDevicePath,
		transport:  flagTransport,
		stress:     flagStress,
		loopback:   flagLoopback,
		debug:      flagDebug,
		stats:      flagStats,
		list:       flagList,
	}
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(f *flags) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if f.devicePath != "" {
		cfg.Device = f.devicePath
	}
	if f.transport != "" {
		cfg.Transport = f.transport
	}
	if f.loopback {
		cfg.Transport = config.TransportLoopback
	}
	if f.debug {
		cfg.Debug = true
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	config.Normalize(cfg)
	return cfg, nil
}

// newTransport opens the transport named by cfg.
func newTransport(cfg *config.Config) (spistream.Transport, error) {
	switch cfg.Transport {
	case config.TransportSPI:
		transport, err := spi.New(cfg.Device,
			spi.WithFrequency(physic.Frequency(cfg.SPI.FrequencyHz)*physic.Hertz),
			spi.WithMode(periphspi.Mode(cfg.SPI.Mode)))
		if err != nil {
			return nil, fmt.Errorf("failed to create SPI transport for %s: %w", cfg.Device, err)
		}
		return transport, nil
	case config.TransportUART:
		transport, err := uart.New(cfg.Device, uart.WithBaudRate(cfg.UART.BaudRate))
		if err != nil {
			return nil, fmt.Errorf("failed to create UART transport for %s: %w", cfg.Device, err)
		}
		if cfg.UART.TimeoutMs > 0 {
			if err := transport.SetTimeout(time.Duration(cfg.UART.TimeoutMs) * time.Millisecond); err != nil {
				_ = transport.Close()
				return nil, fmt.Errorf("failed to set UART timeout: %w", err)
			}
		}
		return transport, nil
	case config.TransportLoopback:
		return newLoopbackTransport(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Transport)
	}
}

// newLoopbackTransport answers every packet from an in-process peer that
// echoes what it receives.
func newLoopbackTransport(cfg *config.Config) spistream.Transport {
	peer := testutil.NewVirtualPeer(testutil.PeerConfig{
		PacketWords:   cfg.Link.PacketWords,
		TXCapacity:    cfg.Link.RXCapacity,
		RXCapacity:    cfg.Link.TXCapacity,
		FirstPacketID: testutil.DefaultPeerConfig().FirstPacketID,
		Echo:          true,
	})
	mock := spistream.NewMockTransport()
	mock.SetResponder(peer.Respond)
	return mock
}

func linkOptions(cfg *config.Config) []spistream.Option {
	return []spistream.Option{
		spistream.WithPacketWords(cfg.Link.PacketWords),
		spistream.WithBufferCapacity(cfg.Link.TXCapacity, cfg.Link.RXCapacity),
		spistream.WithFirstPacketID(cfg.Link.FirstPacketID),
	}
}

func openLink(cfg *config.Config) (*spistream.Link, error) {
	transport, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	link, err := spistream.NewLink(transport, linkOptions(cfg)...)
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("failed to create link: %w", err)
	}
	return link, nil
}

func pollConfig(cfg *config.Config) *polling.Config {
	pc := polling.DefaultConfig()
	pc.PollInterval = time.Duration(cfg.Poll.IntervalMs) * time.Millisecond
	pc.IdleInterval = max(pc.IdleInterval, pc.PollInterval)
	pc.MaxConsecutiveErrors = cfg.Poll.MaxConsecutiveErrors
	return pc
}

// parseWords reads whitespace-separated words, each 0x-prefixed hex,
// 0-prefixed octal or decimal.
func parseWords(line string) ([]uint32, error) {
	fields := strings.Fields(line)
	words := make([]uint32, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.ParseUint(field, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid word %q: %w", field, err)
		}
		words = append(words, uint32(v))
	}
	return words, nil
}

func formatWords(words []uint32) string {
	var sb strings.Builder
	for i, w := range words {
		if i > 0 {
			sb.WriteByte(' ')
		}
		_, _ = fmt.Fprintf(&sb, "0x%08X", w)
	}
	return sb.String()
}

// writeWords stages words, waiting for the link to drain when the TX
// buffer is full. Batches larger than the buffer are split.
func writeWords(ctx context.Context, session *polling.Session, words []uint32) error {
	limit := session.GetLink().Config().TXCapacity
	for len(words) > 0 {
		n := min(len(words), limit)
		err := session.Write(words[:n])
		switch {
		case err == nil:
			words = words[n:]
		case errors.Is(err, spistream.ErrBufferOverflow):
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		default:
			return err
		}
	}
	return nil
}

// pumpInput copies words from r to the session until EOF.
func pumpInput(ctx context.Context, session *polling.Session, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		words, err := parseWords(scanner.Text())
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
			continue
		}
		if err := writeWords(ctx, session, words); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}

func runStreamMode(ctx context.Context, session *polling.Session, in io.Reader, out io.Writer) error {
	session.SetOnData(func(words []uint32) {
		_, _ = fmt.Fprintln(out, formatWords(words))
	})

	done := make(chan error, 1)
	go func() {
		done <- session.Start(ctx)
	}()

	inputErr := make(chan error, 1)
	go func() {
		inputErr <- pumpInput(ctx, session, in)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("polling stopped: %w", err)
		}
		return nil
	case err := <-inputErr:
		stopped := false
		if err == nil {
			stopped, err = waitDrained(ctx, session, done)
		}
		if !stopped {
			_ = session.Close()
			if stopErr := <-done; stopErr != nil && err == nil {
				err = fmt.Errorf("polling stopped: %w", stopErr)
			}
		}
		return err
	}
}

// waitDrained returns once every staged word has been sent and the link
// has gone quiet, so replies to the last input have been printed. stopped
// reports whether the session ended on its own while waiting.
func waitDrained(ctx context.Context, session *polling.Session, done <-chan error) (stopped bool, err error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	var sentAt time.Time
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case err := <-done:
			if err != nil {
				return true, fmt.Errorf("polling stopped: %w", err)
			}
			return true, nil
		case <-ticker.C:
			if session.GetLink().Pending() > 0 {
				sentAt = time.Time{}
				continue
			}
			if sentAt.IsZero() {
				sentAt = time.Now()
				continue
			}
			// Idle entered after everything was sent means replies have stopped
			ps := session.GetState()
			if ps.State == polling.StateIdle && ps.LastPoll.After(sentAt) {
				return false, nil
			}
		}
	}
}

// statsReport is printed by -stats.
type statsReport struct {
	Link    spistream.Stats `json:"link"`
	Session polling.Metrics `json:"session"`
}

func printStats(w io.Writer, session *polling.Session) error {
	report := statsReport{
		Link:    session.GetLink().Stats(),
		Session: session.Metrics(),
	}
	out, err := jsoniter.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	_, _ = fmt.Fprintln(w, string(out))
	return nil
}

func run(ctx context.Context, f *flags) error {
	if f.list {
		return listDevices(ctx, os.Stdout, detection.DetectAll)
	}

	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	if cfg.Debug {
		spistream.SetDebugEnabled(true)
	}
	if cfg.SessionLog != "" {
		path, logErr := spistream.InitSessionLog(cfg.SessionLog)
		if logErr != nil {
			return logErr
		}
		_, _ = fmt.Fprintf(os.Stderr, "Session log: %s\n", path)
		defer func() { _ = spistream.CloseSessionLog() }()
	}

	if err := resolveDevice(ctx, cfg, detection.DetectAll, os.Stderr); err != nil {
		return err
	}

	link, err := openLink(cfg)
	if err != nil {
		return err
	}

	session, err := polling.NewSession(link, pollConfig(cfg))
	if err != nil {
		_ = link.Close()
		return err
	}
	defer func() {
		if err := session.GetLink().Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close link: %v\n", err)
		}
	}()
	defer func() { _ = session.Close() }()

	if cfg.Transport != config.TransportLoopback {
		sleep := polling.DefaultSleepRecoveryConfig()
		session.SetRecoverer(polling.NewDefaultRecoverer(link, func() (*spistream.Link, error) {
			return openLink(cfg)
		}, sleep.RecoveryBackoff, sleep.MaxRecoveryAttempts))
	}
	session.SetOnError(func(err error) {
		spistream.Debugf("poll error: %v", err)
		if trace := spistream.GetTrace(err); trace != nil {
			spistream.Debugf("%s", trace.FormatTrace())
		}
	})

	if f.stats {
		defer func() { _ = printStats(os.Stdout, session) }()
	}

	if f.stress > 0 {
		return runStressMode(ctx, session, f.stress)
	}
	return runStreamMode(ctx, session, os.Stdin, os.Stdout)
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	f := parseFlags()

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Fprint(os.Stderr, "\nShutting down gracefully...\n")
		cancel()
	}()

	if err := run(ctx, f); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
