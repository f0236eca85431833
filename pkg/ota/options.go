// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package ota

import (
	"time"

	"github.com/foundriesio/asyncota/internal/events"
	"github.com/foundriesio/asyncota/internal/urlcheck"
)

type (
	// Watchdog brackets the potentially long finish phase. Implementations
	// are expected to be cheap and never block.
	Watchdog interface {
		Register()
		Reset()
		Deregister()
	}

	options struct {
		taskName     string
		watchdog     Watchdog
		restart      func()
		verifyURL    func(string) error
		journal      *events.Journal
		pollInterval time.Duration
		settleDelay  time.Duration
		startTimeout time.Duration
	}

	Option func(*options)
)

const (
	defaultTaskName     = "asyncOtaTask"
	defaultPollInterval = time.Second
	defaultSettleDelay  = 5 * time.Second
	defaultStartTimeout = time.Second
)

func defaultOptions() *options {
	return &options{
		taskName:     defaultTaskName,
		watchdog:     nopWatchdog{},
		restart:      nil,
		verifyURL:    urlcheck.Verify,
		pollInterval: defaultPollInterval,
		settleDelay:  defaultSettleDelay,
		startTimeout: defaultStartTimeout,
	}
}

// WithTaskName names the worker in log output.
func WithTaskName(name string) Option {
	return func(o *options) { o.taskName = name }
}

// WithWatchdog registers the watchdog bracketing the finish phase.
func WithWatchdog(wd Watchdog) Option {
	return func(o *options) { o.watchdog = wd }
}

// WithRestartHandler sets the restart hook invoked after a successful job
// once the settle delay has elapsed. The hook is expected not to return.
func WithRestartHandler(restart func()) Option {
	return func(o *options) { o.restart = restart }
}

// WithURLVerifier overrides the firmware URL verification collaborator.
func WithURLVerifier(verify func(string) error) Option {
	return func(o *options) { o.verifyURL = verify }
}

// WithJournal persists update lifecycle events to the given journal.
func WithJournal(j *events.Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithPollInterval sets the worker yield/abort-check cadence and the
// progress-log rate limit of Update.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithSettleDelay sets how long a terminal status stays observable before
// Update recycles the state or restarts the device.
func WithSettleDelay(d time.Duration) Option {
	return func(o *options) { o.settleDelay = d }
}

// WithStartTimeout sets the bounded wait of StartTask/EndTask before they
// log a warning and fall back to waiting without a limit.
func WithStartTimeout(d time.Duration) Option {
	return func(o *options) { o.startTimeout = d }
}

type nopWatchdog struct{}

func (nopWatchdog) Register()   {}
func (nopWatchdog) Reset()      {}
func (nopWatchdog) Deregister() {}
