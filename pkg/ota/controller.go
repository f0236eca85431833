// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package ota implements the asynchronous firmware-update orchestrator:
// a Controller exposing the trigger/abort/status/progress contract and a
// single background worker goroutine driving the transfer engine through
// its begin/describe/size/perform/finish phases.
package ota

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"github.com/foundriesio/asyncota/internal/events"
	"github.com/foundriesio/asyncota/pkg/engine"
	"github.com/foundriesio/asyncota/pkg/signal"
)

var (
	ErrWorkerAlreadyStarted = errors.New("ota worker already started")
	ErrTaskAlreadyRunning   = errors.New("ota task already running")
	ErrEndAlreadyPending    = errors.New("another end request is already pending")
	ErrTaskNotRunning       = errors.New("ota cloud task not running")
	ErrUpdateRunning        = errors.New("ota cloud already running")
	ErrNotAcknowledged      = errors.New("ota cloud not fully finished, try again")
	ErrEmptyURL             = errors.New("empty firmware url")
	ErrNoJobRunning         = errors.New("no ota job is running")
	ErrAbortPending         = errors.New("an abort has already been requested")
)

type (
	// jobParams are written by Trigger and read by the worker once it has
	// consumed the start flag; the flag handoff orders the accesses.
	jobParams struct {
		id           string
		url          string
		certPEM      string
		useSystemCAs bool
		clientKey    string
		clientCert   string
	}

	// Controller owns the flag group and the job parameters, and is the
	// only public surface; all methods are safe for concurrent use.
	Controller struct {
		taskName     string
		engine       engine.Engine
		watchdog     Watchdog
		restart      func()
		verifyURL    func(string) error
		journal      *events.Journal
		pollInterval time.Duration
		settleDelay  time.Duration
		startTimeout time.Duration

		sig     *signal.Group
		hasTask atomic.Bool

		// apiMu serializes the public mutators (StartTask, EndTask,
		// Trigger, Abort) against each other, never against the worker.
		apiMu sync.Mutex

		job     jobParams
		lastJob atomic.Pointer[jobParams]

		// progress snapshot, worker-written, read lock-free
		progress  atomic.Int64
		totalSize atomic.Int64
		message   atomic.Pointer[string]
		imageDesc atomic.Pointer[engine.ImageDescriptor]

		// tick state, touched only inside Update
		finishedAt time.Time
		lastInfo   time.Time
	}
)

// New creates a Controller around the given transfer engine. The worker
// is not started until StartTask or the first Trigger.
func New(eng engine.Engine, opt ...Option) *Controller {
	opts := defaultOptions()
	for _, o := range opt {
		o(opts)
	}
	return &Controller{
		taskName:     opts.taskName,
		engine:       eng,
		watchdog:     opts.watchdog,
		restart:      opts.restart,
		verifyURL:    opts.verifyURL,
		journal:      opts.journal,
		pollInterval: opts.pollInterval,
		settleDelay:  opts.settleDelay,
		startTimeout: opts.startTimeout,
		sig:          signal.New(),
	}
}

// StartTask spawns the worker goroutine and returns once it is parked and
// ready to accept a trigger.
func (c *Controller) StartTask() error {
	c.apiMu.Lock()
	defer c.apiMu.Unlock()
	return c.startTask()
}

func (c *Controller) startTask() error {
	if c.hasTask.Load() {
		slog.Warn(ErrWorkerAlreadyStarted.Error())
		return ErrWorkerAlreadyStarted
	}
	if c.sig.Get()&taskRunningBit != 0 {
		slog.Warn(ErrTaskAlreadyRunning.Error())
		return ErrTaskAlreadyRunning
	}

	c.sig.Clear(allBits)
	c.hasTask.Store(true)
	go c.run()
	slog.Debug("created ota worker", "task", c.taskName)

	if c.sig.Wait(taskRunningBit, false, false, c.startTimeout)&taskRunningBit != 0 {
		return nil
	}
	slog.Warn("ota worker running flag not yet set...", "task", c.taskName)
	c.sig.Wait(taskRunningBit, false, false, signal.Forever)
	return nil
}

// EndTask asks the worker to shut down and waits for it. Calling it with
// no worker running is a no-op.
func (c *Controller) EndTask() error {
	c.apiMu.Lock()
	defer c.apiMu.Unlock()

	bits := c.sig.Get()
	if bits&taskRunningBit == 0 {
		return nil
	}
	if bits&endTaskBit != 0 {
		slog.Error(ErrEndAlreadyPending.Error())
		return ErrEndAlreadyPending
	}

	c.sig.Set(endTaskBit)

	if c.sig.Wait(taskEndedBit, true, false, c.startTimeout)&taskEndedBit != 0 {
		slog.Debug("ota worker ended", "task", c.taskName)
		return nil
	}
	slog.Warn("ota worker ended flag not yet set...", "task", c.taskName)
	c.sig.Wait(taskEndedBit, true, false, signal.Forever)
	slog.Debug("ota worker ended", "task", c.taskName)
	return nil
}

// Trigger validates and stashes the job parameters and signals the worker
// to start a new job. The worker is started lazily if needed. Concurrent
// triggers are rejected, not queued.
func (c *Controller) Trigger(url, certPEM string, useSystemCAs bool, clientKey, clientCert string) error {
	c.apiMu.Lock()
	defer c.apiMu.Unlock()

	if !c.hasTask.Load() {
		if err := c.startTask(); err != nil {
			return err
		}
	}

	bits := c.sig.Get()
	switch {
	case bits&taskRunningBit == 0:
		return ErrTaskNotRunning
	case bits&(startRequestBit|requestRunningBit) != 0:
		return ErrUpdateRunning
	case bits&requestFinishedBit != 0:
		return ErrNotAcknowledged
	}

	if url == "" {
		return ErrEmptyURL
	}
	if err := c.verifyURL(url); err != nil {
		return errors.Wrap(err, "could not verify firmware url")
	}

	c.job = jobParams{
		id:           ulid.Make().String(),
		url:          url,
		certPEM:      certPEM,
		useSystemCAs: useSystemCAs,
		clientKey:    clientKey,
		clientCert:   clientCert,
	}
	job := c.job
	c.lastJob.Store(&job)

	c.sig.Set(startRequestBit)
	slog.Info("ota cloud update triggered", "job", c.job.id, "url", url)

	if c.journal != nil {
		if err := c.journal.Record(events.New(events.UpdateTriggered, c.job.id, url, nil, "")); err != nil {
			slog.Error("failed to record trigger event", "error", err)
		}
	}
	return nil
}

// Abort requests cancellation of the in-flight job. The abort is advisory
// and honored by the worker at the next chunk boundary.
func (c *Controller) Abort() error {
	c.apiMu.Lock()
	defer c.apiMu.Unlock()

	bits := c.sig.Get()
	if bits&(startRequestBit|requestRunningBit) == 0 {
		return ErrNoJobRunning
	}
	if bits&abortRequestBit != 0 {
		return ErrAbortPending
	}

	c.sig.Set(abortRequestBit)
	slog.Info("ota cloud update abort requested")

	if c.journal != nil {
		job := c.lastJob.Load()
		if job != nil {
			if err := c.journal.Record(events.New(events.UpdateAborted, job.id, job.url, nil, "")); err != nil {
				slog.Error("failed to record abort event", "error", err)
			}
		}
	}
	return nil
}

// Status maps the current flag snapshot to exactly one status; it never
// mutates any state.
func (c *Controller) Status() Status {
	return statusOf(c.sig.Get())
}

// Progress reports the bytes transferred so far by the current or most
// recent job. The read is eventually consistent with the worker.
func (c *Controller) Progress() int64 {
	return c.progress.Load()
}

// TotalSize reports the full image size once the engine has reported it;
// ok is false while the size is still unknown.
func (c *Controller) TotalSize() (size int64, ok bool) {
	size = c.totalSize.Load()
	return size, size > 0
}

// Message returns the last error message; empty denotes success.
func (c *Controller) Message() string {
	if m := c.message.Load(); m != nil {
		return *m
	}
	return ""
}

// ImageDescriptor returns the image metadata of the current or most
// recent job, or nil while none is available.
func (c *Controller) ImageDescriptor() *engine.ImageDescriptor {
	return c.imageDesc.Load()
}

// Update is the periodic tick driven by an external scheduler. While a
// job is in flight it logs progress at most once per poll interval. Once
// the finished flag is first observed it records the settle timestamp and
// the terminal outcome; after the settle delay has elapsed it either
// triggers the device restart (success) or recycles the state back to
// idle (failure), clearing the cached image descriptor.
func (c *Controller) Update() {
	bits := c.sig.Get()
	if bits&(startRequestBit|requestRunningBit|requestVerifyingBit) != 0 {
		if !c.lastInfo.IsZero() && time.Since(c.lastInfo) < c.pollInterval {
			return
		}
		c.lastInfo = time.Now()
		c.logProgress(bits, "OTA progress")
		return
	}
	if bits&requestFinishedBit == 0 {
		return
	}

	if c.finishedAt.IsZero() {
		c.finishedAt = time.Now()
		c.logProgress(bits, "OTA finished")
		c.recordOutcome(bits)
		return
	}
	if time.Since(c.finishedAt) <= c.settleDelay {
		return
	}
	c.finishedAt = time.Time{}

	if bits&requestSucceededBit != 0 && c.restart != nil {
		// Irreversible and, by contract, non-returning.
		c.restart()
	}
	c.sig.Clear(requestFinishedBit | requestSucceededBit)
	c.imageDesc.Store(nil)
}

func (c *Controller) logProgress(bits signal.Bits, event string) {
	switch {
	case bits&requestVerifyingBit != 0:
		slog.Info("OTA verifying")
	default:
		read := c.progress.Load()
		if total, ok := c.TotalSize(); ok {
			slog.Info(event, "read", read, "total", total,
				"percent", 100*float64(read)/float64(total))
		} else {
			slog.Info(event, "read", read, "total", "unknown")
		}
	}
}

func (c *Controller) recordOutcome(bits signal.Bits) {
	if c.journal == nil {
		return
	}
	job := c.lastJob.Load()
	if job == nil {
		return
	}
	success := bits&requestSucceededBit != 0
	if err := c.journal.Record(events.New(events.UpdateCompleted, job.id, job.url, &success, c.Message())); err != nil {
		slog.Error("failed to record outcome event", "error", err)
	}
}
