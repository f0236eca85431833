// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package signal provides a waitable group of independent boolean flags,
// the coordination primitive between the update controller and its worker.
package signal

import (
	"sync"
	"time"
)

// Bits is a set of flags; callers define their own flag constants.
type Bits uint32

// Forever makes Wait block until the requested bits are set.
const Forever time.Duration = -1

// Group is a set of flags with atomic set/clear and blocking waits.
// The zero value is not usable; use New.
type Group struct {
	mu     sync.Mutex
	bits   Bits
	wakeup chan struct{}
}

func New() *Group {
	return &Group{wakeup: make(chan struct{})}
}

// Set sets the given bits and returns the resulting snapshot.
func (g *Group) Set(b Bits) Bits {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.bits|b != g.bits {
		g.bits |= b
		g.broadcast()
	}
	return g.bits
}

// Clear clears the given bits and returns the snapshot observed before
// clearing, so `Clear(b)&b != 0` is an atomic test-and-clear.
func (g *Group) Clear(b Bits) Bits {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.bits
	if g.bits&^b != g.bits {
		g.bits &^= b
		g.broadcast()
	}
	return prev
}

// Get returns the current snapshot.
func (g *Group) Get() Bits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bits
}

// broadcast wakes every waiter; callers must hold g.mu.
func (g *Group) broadcast() {
	close(g.wakeup)
	g.wakeup = make(chan struct{})
}

// Wait blocks the calling goroutine until at least one (or, with
// waitForAll, all) of the requested bits is set, then returns the
// snapshot observed at that moment. With clearOnExit the requested bits
// are cleared atomically with the observation. A zero timeout never
// blocks; Forever never gives up. On timeout the current snapshot is
// returned without clearing anything.
func (g *Group) Wait(b Bits, clearOnExit, waitForAll bool, timeout time.Duration) Bits {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		g.mu.Lock()
		satisfied := g.bits&b != 0
		if waitForAll {
			satisfied = g.bits&b == b
		}
		if satisfied {
			observed := g.bits
			if clearOnExit {
				g.bits &^= b
				g.broadcast()
			}
			g.mu.Unlock()
			return observed
		}
		wakeup := g.wakeup
		observed := g.bits
		g.mu.Unlock()

		if timeout == 0 {
			return observed
		}
		if timeout < 0 {
			<-wakeup
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return observed
		}
		timer := time.NewTimer(remaining)
		select {
		case <-wakeup:
			timer.Stop()
		case <-timer.C:
			return g.Get()
		}
	}
}
