// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package ota

import (
	"github.com/foundriesio/asyncota/pkg/signal"
)

// Lifecycle flags shared between the controller and its worker. Each
// bit-group has a single writer: the worker owns RUNNING, VERIFYING,
// FINISHED, SUCCEEDED and TASK_ENDED; the controller owns START_REQUEST,
// ABORT_REQUEST and END_TASK.
const (
	taskRunningBit signal.Bits = 1 << iota
	startRequestBit
	requestRunningBit
	requestVerifyingBit
	requestFinishedBit
	requestSucceededBit
	endTaskBit
	taskEndedBit
	abortRequestBit

	allBits = taskRunningBit | startRequestBit | requestRunningBit |
		requestVerifyingBit | requestFinishedBit | requestSucceededBit |
		endTaskBit | taskEndedBit | abortRequestBit
)

// Status is the externally visible update state, derived purely from the
// flag snapshot.
type Status uint8

const (
	StatusIdle Status = iota
	StatusUpdating
	StatusVerifying
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusUpdating:
		return "Updating"
	case StatusVerifying:
		return "Verifying"
	case StatusSucceeded:
		return "Succeeded"
	case StatusFailed:
		return "Failed"
	}
	return "Unknown"
}

// statusOf maps one flag snapshot to exactly one status. The order
// matters: VERIFYING is set while RUNNING still holds, and FINISHED is
// only reachable once both are cleared.
func statusOf(bits signal.Bits) Status {
	switch {
	case bits&taskRunningBit == 0:
		return StatusIdle
	case bits&requestVerifyingBit != 0:
		return StatusVerifying
	case bits&(startRequestBit|requestRunningBit) != 0:
		return StatusUpdating
	case bits&requestFinishedBit != 0:
		if bits&requestSucceededBit != 0 {
			return StatusSucceeded
		}
		return StatusFailed
	}
	return StatusIdle
}
