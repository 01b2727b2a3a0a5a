//go:build !deadlock

// Package syncutil holds the mutexes used by the link, the polling session
// and the detection cache. Normal builds get the sync types; building with
// -tags=deadlock swaps in github.com/sasha-s/go-deadlock so lock-order bugs
// between the session and the link show up in tests.
package syncutil

import "sync"

// Mutex is a sync.Mutex in normal builds.
//
//nolint:gocritic // embedding exposes Lock/Unlock directly
type Mutex struct {
	sync.Mutex
}

// RWMutex is a sync.RWMutex in normal builds.
//
//nolint:gocritic // embedding exposes the full RWMutex method set
type RWMutex struct {
	sync.RWMutex
}
