//go:build deadlock

// Package syncutil holds the mutexes used by the link, the polling session
// and the detection cache. This file is selected by -tags=deadlock.
package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

// Mutex reports lock-order inversions and long waits.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex reports lock-order inversions and long waits.
type RWMutex struct {
	deadlock.RWMutex
}
