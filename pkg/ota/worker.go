// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package ota

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/foundriesio/asyncota/pkg/engine"
	"github.com/foundriesio/asyncota/pkg/signal"
)

// abortedMessage is the fixed, user-visible outcome of a cancelled job;
// it is never conflated with an engine error.
const abortedMessage = "Requested abort"

// run is the worker loop. It parks between jobs waiting for a start or
// shutdown signal and runs one job end-to-end per wakeup. The deferred
// finalizer guarantees a consistent flag state on every exit path.
func (c *Controller) run() {
	defer func() {
		c.sig.Clear(taskRunningBit)
		c.hasTask.Store(false)
		c.sig.Set(taskEndedBit)
	}()

	c.sig.Set(taskRunningBit)

	for {
		bits := c.sig.Wait(startRequestBit|endTaskBit, true, false, signal.Forever)
		if bits&endTaskBit != 0 {
			// Shutdown wins over a pending start request.
			return
		}
		if bits&startRequestBit == 0 {
			continue
		}
		c.runJob(c.job)
	}
}

// runJob drives one update job through the engine phases. On return the
// running/verifying/abort flags are cleared and the finished flag is set
// exactly once, whatever path led out of the job.
func (c *Controller) runJob(job jobParams) {
	c.progress.Store(0)
	c.totalSize.Store(0)
	c.setMessage("")

	c.sig.Set(requestRunningBit)
	defer func() {
		c.sig.Clear(requestRunningBit | requestVerifyingBit | abortRequestBit)
		c.sig.Set(requestFinishedBit)
	}()

	ctx := context.Background()
	tlsCfg := engine.TLSConfig{
		ServerCertPEM: []byte(job.certPEM),
		UseSystemCAs:  job.useSystemCAs,
		ClientKeyPEM:  []byte(job.clientKey),
		ClientCertPEM: []byte(job.clientCert),
	}

	slog.Info("begin()...", "job", job.id, "url", job.url)
	session, err := c.engine.Begin(ctx, job.url, tlsCfg)
	if err != nil {
		slog.Error("begin() returned", "error", err)
		c.setMessage(phaseError("begin", err))
		return
	}
	slog.Info("begin() returned", "error", nil)

	slog.Info("describeImage()...")
	if desc, err := session.DescribeImage(); err == nil {
		slog.Info("describeImage() returned", "version", desc.Version, "project", desc.Project)
		c.imageDesc.Store(desc)
	} else {
		// Best-effort: degraded reporting, never a failed job.
		slog.Error("describeImage() returned", "error", err)
		c.imageDesc.Store(nil)
	}

	slog.Info("getTotalSize()...")
	if size := session.TotalSize(); size > 0 {
		slog.Info("getTotalSize() returned", "size", size)
		c.totalSize.Store(size)
	} else {
		slog.Error("getTotalSize() returned", "size", size)
	}

	slog.Info("performChunk()...")
	var aborted bool
	var performErr error
	lastYield := time.Now()
	for {
		done, err := session.PerformChunk(ctx)
		if err != nil {
			performErr = err
			break
		}
		if done {
			break
		}

		c.progress.Store(session.BytesRead())

		if time.Since(lastYield) >= c.pollInterval {
			lastYield = time.Now()
			runtime.Gosched()
		}

		// Cancellation is observed only here, between chunk transfers.
		if c.sig.Clear(abortRequestBit)&abortRequestBit != 0 {
			slog.Warn("abort request received", "job", job.id)
			aborted = true
			c.setMessage(abortedMessage)
			break
		}
	}
	c.progress.Store(session.BytesRead())
	if performErr != nil {
		slog.Error("performChunk() returned", "error", performErr)
	} else {
		slog.Info("performChunk() returned", "read", session.BytesRead())
	}

	var finishErr error
	if performErr == nil && !aborted {
		// Ordering: set VERIFYING before clearing RUNNING so no reader
		// ever observes the job as idle mid-flight.
		c.sig.Set(requestVerifyingBit)
		c.sig.Clear(requestRunningBit)

		c.watchdog.Register()
		slog.Info("finish()...")
		finishErr = session.Finish(ctx)
		if finishErr != nil {
			slog.Error("finish() returned", "error", finishErr)
		} else {
			slog.Info("finish() returned", "error", nil)
		}
		c.watchdog.Reset()
		c.watchdog.Deregister()
	} else {
		if err := session.Close(); err != nil {
			slog.Debug("session close failed", "error", err)
		}
	}

	if !aborted {
		switch {
		case performErr != nil:
			c.setMessage(phaseError("performChunk", performErr))
		case finishErr != nil:
			c.setMessage(phaseError("finish", finishErr))
		default:
			c.setMessage("")
		}
	}

	if performErr == nil && finishErr == nil && !aborted {
		c.sig.Set(requestSucceededBit)
	}
}

func (c *Controller) setMessage(msg string) {
	if msg == "" {
		c.message.Store(nil)
		return
	}
	c.message.Store(&msg)
}

// phaseError embeds the failing phase name and a timestamp so the
// message alone is enough to diagnose a failed job later.
func phaseError(phase string, err error) string {
	return fmt.Sprintf("%s() failed with %v (at %d)", phase, err, time.Now().UnixMilli())
}
