// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig("")
	require.Nil(t, err)
	require.Equal(t, DefaultTaskName, cfg.OTA.TaskName)
	require.Equal(t, time.Second, cfg.PollInterval())
	require.Equal(t, 5*time.Second, cfg.SettleDelay())
	require.Equal(t, StorageDefaultDir, cfg.Storage.Path)
	require.Equal(t, filepath.Join(StorageDefaultDir, EventsDBFilename), cfg.EventsDBPath())
	require.True(t, cfg.TLS.UseSystemCAs)
	require.Equal(t, 300*time.Second, cfg.DaemonPollingInterval())
}

func TestNewConfig_FromFile(t *testing.T) {
	tmpdir := t.TempDir()
	path := filepath.Join(tmpdir, "asyncota.toml")
	content := fmt.Sprintf(`
[ota]
task_name = "fwTask"
settle_delay_seconds = 2
chunk_size = 1024

[storage]
path = "%s"

[daemon]
url = "https://fw.example.com/image.bin"
polling_seconds = 60
`, tmpdir)
	require.Nil(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewConfig(path)
	require.Nil(t, err)
	require.Equal(t, "fwTask", cfg.OTA.TaskName)
	require.Equal(t, 2*time.Second, cfg.SettleDelay())
	require.Equal(t, 1024, cfg.OTA.ChunkSize)
	require.Equal(t, tmpdir, cfg.Storage.Path)
	require.Equal(t, "https://fw.example.com/image.bin", cfg.Daemon.URL)
	require.Equal(t, time.Minute, cfg.DaemonPollingInterval())
}

func TestNewConfig_OutOfRangeValuesFallBack(t *testing.T) {
	tmpdir := t.TempDir()
	path := filepath.Join(tmpdir, "asyncota.toml")
	content := `
[ota]
poll_interval_seconds = -3

[daemon]
polling_seconds = 1
`
	require.Nil(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewConfig(path)
	require.Nil(t, err)
	require.Equal(t, DefaultPollSeconds, cfg.OTA.PollIntervalSeconds)
	require.Equal(t, DaemonDefaultPollingSeconds, cfg.Daemon.PollingSeconds)
}

func TestConfig_ClientCredentials(t *testing.T) {
	tmpdir := t.TempDir()
	certPath := filepath.Join(tmpdir, "client.crt")
	keyPath := filepath.Join(tmpdir, "client.key")
	require.Nil(t, os.WriteFile(certPath, []byte("CERT"), 0o600))
	require.Nil(t, os.WriteFile(keyPath, []byte("KEY"), 0o600))

	credsPath := filepath.Join(tmpdir, "credentials.ini")
	creds := fmt.Sprintf("[fw.example.com]\nclient_cert = %s\nclient_key = %s\n", certPath, keyPath)
	require.Nil(t, os.WriteFile(credsPath, []byte(creds), 0o600))

	tomlPath := filepath.Join(tmpdir, "asyncota.toml")
	require.Nil(t, os.WriteFile(tomlPath, []byte(fmt.Sprintf("[tls]\ncredentials_path = \"%s\"\n", credsPath)), 0o644))

	cfg, err := NewConfig(tomlPath)
	require.Nil(t, err)

	cert, key, err := cfg.ClientCredentials("fw.example.com")
	require.Nil(t, err)
	require.Equal(t, []byte("CERT"), cert)
	require.Equal(t, []byte("KEY"), key)

	// Unknown host has no credentials, not an error.
	cert, key, err = cfg.ClientCredentials("other.example.com")
	require.Nil(t, err)
	require.Nil(t, cert)
	require.Nil(t, key)
}
