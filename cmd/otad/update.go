// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/foundriesio/asyncota/pkg/ota"
)

type updateOptions struct {
	url    string
	reboot bool
}

func init() {
	opts := updateOptions{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Run a single firmware update and exit",
		Run: func(cmd *cobra.Command, args []string) {
			doUpdate(cmd, &opts)
		},
		Args: cobra.NoArgs,
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "Firmware image URL (defaults to daemon.url from the config)")
	cmd.Flags().BoolVar(&opts.reboot, "reboot", false, "Reboot the device once the update succeeded")
	rootCmd.AddCommand(cmd)
}

func doUpdate(cmd *cobra.Command, opts *updateOptions) {
	fwURL := opts.url
	if fwURL == "" {
		fwURL = config.Daemon.URL
	}

	restarted := make(chan struct{})
	restart := func() {
		if opts.reboot {
			rebootDevice()
		} else {
			slog.Info("update succeeded, device restart required")
		}
		close(restarted)
	}

	ctrl, err := newController(restart)
	DieNotNil(err, "Failed to create update controller")
	DieNotNil(ctrl.StartTask(), "Failed to start the ota worker")
	DieNotNil(triggerUpdate(ctrl, fwURL), "Failed to trigger the update")

	ctx := cmd.Context()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var terminal ota.Status
	for {
		select {
		case <-restarted:
			return
		case <-ctx.Done():
			if err := ctrl.Abort(); err == nil {
				slog.Info("interrupted, waiting for the job to abort")
				for ctrl.Status() == ota.StatusUpdating || ctrl.Status() == ota.StatusVerifying {
					time.Sleep(100 * time.Millisecond)
				}
			}
			DieNotNil(ctrl.EndTask())
			DieNotNilWithCode(fmt.Errorf("aborted: %s", ctrl.Message()), 2)
		case <-ticker.C:
			ctrl.Update()
			switch st := ctrl.Status(); st {
			case ota.StatusSucceeded, ota.StatusFailed:
				terminal = st
			case ota.StatusIdle:
				// The controller recycled the terminal state.
				if terminal == ota.StatusFailed {
					DieNotNil(fmt.Errorf("%s", ctrl.Message()), "Update failed:")
				}
				DieNotNil(ctrl.EndTask())
				return
			}
		}
	}
}
