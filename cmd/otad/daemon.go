// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/foundriesio/asyncota/pkg/ota"
)

func init() {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Start the update agent daemon",
		Run:   doDaemon,
		Args:  cobra.NoArgs,
	}
	rootCmd.AddCommand(cmd)
}

func doDaemon(cmd *cobra.Command, args []string) {
	if config.Daemon.URL == "" {
		DieNotNil(errors.New("daemon.url is not set in the config"))
	}

	ctrl, err := newController(rebootDevice)
	DieNotNil(err, "Failed to create update controller")
	DieNotNil(ctrl.StartTask(), "Failed to start the ota worker")

	ctx := cmd.Context()
	interval := config.DaemonPollingInterval()
	slog.Info("update agent started", "url", config.Daemon.URL, "interval", interval)

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	nextTrigger := time.Now()

	for {
		select {
		case <-ctx.Done():
			if err := ctrl.Abort(); err == nil {
				slog.Info("shutting down, aborting the in-flight job")
			}
			DieNotNil(ctrl.EndTask())
			return
		case <-tick.C:
			ctrl.Update()
			if time.Now().Before(nextTrigger) {
				continue
			}
			nextTrigger = time.Now().Add(interval)
			err := triggerUpdate(ctrl, config.Daemon.URL)
			switch {
			case err == nil:
			case errors.Is(err, ota.ErrUpdateRunning), errors.Is(err, ota.ErrNotAcknowledged):
				slog.Debug("previous update still in progress", "error", err)
			default:
				slog.Error("failed to trigger update", "error", err)
			}
		}
	}
}
