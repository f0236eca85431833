// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package ota

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foundriesio/asyncota/pkg/engine"
)

type (
	fakeSession struct {
		desc       *engine.ImageDescriptor
		descErr    error
		total      int64
		chunks     int
		chunkSize  int64
		chunkDelay time.Duration
		performErr error
		finishErr  error

		served       int
		read         atomic.Int64
		finishCalled atomic.Bool
		closeCalled  atomic.Bool
	}

	fakeEngine struct {
		mu       sync.Mutex
		beginErr error
		factory  func() *fakeSession
		sessions []*fakeSession
	}

	fakeWatchdog struct {
		mu    sync.Mutex
		calls []string
	}
)

func (e *fakeEngine) Begin(ctx context.Context, url string, tlsCfg engine.TLSConfig) (engine.Session, error) {
	if e.beginErr != nil {
		return nil, e.beginErr
	}
	s := e.factory()
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	return s, nil
}

func (e *fakeEngine) lastSession() *fakeSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sessions) == 0 {
		return nil
	}
	return e.sessions[len(e.sessions)-1]
}

func (s *fakeSession) DescribeImage() (*engine.ImageDescriptor, error) {
	return s.desc, s.descErr
}

func (s *fakeSession) TotalSize() int64 { return s.total }

func (s *fakeSession) BytesRead() int64 { return s.read.Load() }

func (s *fakeSession) PerformChunk(ctx context.Context) (bool, error) {
	if s.chunkDelay > 0 {
		time.Sleep(s.chunkDelay)
	}
	if s.served >= s.chunks {
		if s.performErr != nil {
			return false, s.performErr
		}
		return true, nil
	}
	s.served++
	s.read.Add(s.chunkSize)
	return false, nil
}

func (s *fakeSession) Finish(ctx context.Context) error {
	s.finishCalled.Store(true)
	return s.finishErr
}

func (s *fakeSession) Close() error {
	s.closeCalled.Store(true)
	return nil
}

func (w *fakeWatchdog) Register() { w.record("register") }

func (w *fakeWatchdog) Reset() { w.record("reset") }

func (w *fakeWatchdog) Deregister() { w.record("deregister") }

func (w *fakeWatchdog) record(call string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, call)
}

func (w *fakeWatchdog) recorded() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

// quickSession is a small job that succeeds almost immediately.
func quickSession() *fakeSession {
	return &fakeSession{
		desc:      &engine.ImageDescriptor{Version: "1.2.3", Project: "fw"},
		total:     100,
		chunks:    10,
		chunkSize: 10,
	}
}

func newTestController(t *testing.T, eng engine.Engine, opt ...Option) *Controller {
	t.Helper()
	opts := append([]Option{
		WithPollInterval(time.Millisecond),
		WithSettleDelay(50 * time.Millisecond),
		WithStartTimeout(100 * time.Millisecond),
	}, opt...)
	c := New(eng, opts...)
	t.Cleanup(func() {
		_ = c.EndTask()
	})
	return c
}

// waitStatus polls Status only; it never ticks Update, so terminal states
// are not recycled underneath the assertion.
func waitStatus(t *testing.T, c *Controller, want Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if c.Status() == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("status %s not reached within %s, currently %s", want, timeout, c.Status())
		}
		time.Sleep(time.Millisecond)
	}
}

// tickUntil drives Update like an external scheduler until the status is
// reached or the timeout expires.
func tickUntil(t *testing.T, c *Controller, want Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		c.Update()
		if c.Status() == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("status %s not reached within %s, currently %s", want, timeout, c.Status())
		}
		time.Sleep(2 * time.Millisecond)
	}
}
