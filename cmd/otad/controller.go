// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"

	"github.com/foundriesio/asyncota/internal/events"
	"github.com/foundriesio/asyncota/pkg/engine"
	"github.com/foundriesio/asyncota/pkg/ota"
)

// newController assembles the controller from the loaded config.
func newController(restart func()) (*ota.Controller, error) {
	if err := os.MkdirAll(config.Storage.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	journal, err := events.NewJournal(config.EventsDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open event journal: %w", err)
	}
	eng := &engine.HTTPSEngine{
		StorageDir: config.Storage.Path,
		ChunkSize:  config.OTA.ChunkSize,
	}
	return ota.New(eng,
		ota.WithTaskName(config.OTA.TaskName),
		ota.WithPollInterval(config.PollInterval()),
		ota.WithSettleDelay(config.SettleDelay()),
		ota.WithJournal(journal),
		ota.WithRestartHandler(restart),
	), nil
}

// triggerUpdate resolves the TLS material for the firmware host and
// issues the trigger.
func triggerUpdate(ctrl *ota.Controller, fwURL string) error {
	certPEM, err := config.ServerCertPEM()
	if err != nil {
		return err
	}
	var clientCert, clientKey []byte
	if u, err := url.Parse(fwURL); err == nil {
		if clientCert, clientKey, err = config.ClientCredentials(u.Hostname()); err != nil {
			return err
		}
	}
	return ctrl.Trigger(fwURL, string(certPEM), config.TLS.UseSystemCAs, string(clientKey), string(clientCert))
}

// rebootDevice is the restart collaborator wired in by the commands that
// opt into an automatic reboot.
func rebootDevice() {
	slog.Info("update succeeded, restarting device")
	if err := exec.Command("reboot").Run(); err != nil {
		slog.Error("failed to restart device", "error", err)
	}
}
