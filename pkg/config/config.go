// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package config loads the agent configuration: a TOML file for the
// update orchestration knobs plus an optional INI credentials file with
// per-host client certificate material.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml"
	ini "gopkg.in/ini.v1"
)

const (
	StorageDefaultDir    = "/var/sota"
	EventsDBFilename     = "events.db"
	DefaultTaskName      = "asyncOtaTask"
	DefaultChunkSize     = 4096
	DefaultPollSeconds   = 1
	DefaultSettleSeconds = 5

	DaemonDefaultPollingSeconds = 300
	MinDaemonPollingSeconds     = 10
	MaxDaemonPollingSeconds     = 86400
)

type (
	Config struct {
		OTA     OTASection     `toml:"ota"`
		Storage StorageSection `toml:"storage"`
		TLS     TLSSection     `toml:"tls"`
		Daemon  DaemonSection  `toml:"daemon"`

		credentials *ini.File
	}
	OTASection struct {
		TaskName            string `toml:"task_name"`
		PollIntervalSeconds int    `toml:"poll_interval_seconds"`
		SettleDelaySeconds  int    `toml:"settle_delay_seconds"`
		ChunkSize           int    `toml:"chunk_size"`
	}
	StorageSection struct {
		Path string `toml:"path"`
	}
	TLSSection struct {
		// CACertPath pins the firmware server certificate; empty relies
		// on UseSystemCAs.
		CACertPath   string `toml:"ca_cert_path"`
		UseSystemCAs bool   `toml:"use_system_cas"`
		// CredentialsPath is an INI file with one section per firmware
		// host, keys client_cert / client_key pointing at PEM files.
		CredentialsPath string `toml:"credentials_path"`
	}
	DaemonSection struct {
		URL            string `toml:"url"`
		PollingSeconds int    `toml:"polling_seconds"`
	}
)

// NewConfig loads the TOML config from the given path; an empty path or
// a missing file yields the defaults.
func NewConfig(path string) (*Config, error) {
	cfg := &Config{
		OTA: OTASection{
			TaskName:            DefaultTaskName,
			PollIntervalSeconds: DefaultPollSeconds,
			SettleDelaySeconds:  DefaultSettleSeconds,
			ChunkSize:           DefaultChunkSize,
		},
		Storage: StorageSection{Path: StorageDefaultDir},
		TLS:     TLSSection{UseSystemCAs: true},
		Daemon:  DaemonSection{PollingSeconds: DaemonDefaultPollingSeconds},
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: failed to read %q: %w", path, err)
			}
			slog.Debug("config file not found, using defaults", "path", path)
		} else if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %q: %w", path, err)
		}
	}

	if cfg.OTA.PollIntervalSeconds <= 0 {
		slog.Warn("invalid value for ota.poll_interval_seconds, using default",
			"value", cfg.OTA.PollIntervalSeconds, "default", DefaultPollSeconds)
		cfg.OTA.PollIntervalSeconds = DefaultPollSeconds
	}
	if cfg.OTA.SettleDelaySeconds <= 0 {
		slog.Warn("invalid value for ota.settle_delay_seconds, using default",
			"value", cfg.OTA.SettleDelaySeconds, "default", DefaultSettleSeconds)
		cfg.OTA.SettleDelaySeconds = DefaultSettleSeconds
	}
	if cfg.OTA.ChunkSize <= 0 {
		cfg.OTA.ChunkSize = DefaultChunkSize
	}
	if cfg.Daemon.PollingSeconds < MinDaemonPollingSeconds || cfg.Daemon.PollingSeconds > MaxDaemonPollingSeconds {
		slog.Warn("daemon polling interval out of range, using default",
			"value", cfg.Daemon.PollingSeconds, "default", DaemonDefaultPollingSeconds)
		cfg.Daemon.PollingSeconds = DaemonDefaultPollingSeconds
	}

	if cfg.TLS.CredentialsPath != "" {
		creds, err := ini.Load(cfg.TLS.CredentialsPath)
		if err != nil {
			return nil, fmt.Errorf("config: failed to load credentials %q: %w", cfg.TLS.CredentialsPath, err)
		}
		cfg.credentials = creds
	}
	return cfg, nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.OTA.PollIntervalSeconds) * time.Second
}

func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.OTA.SettleDelaySeconds) * time.Second
}

func (c *Config) DaemonPollingInterval() time.Duration {
	return time.Duration(c.Daemon.PollingSeconds) * time.Second
}

func (c *Config) EventsDBPath() string {
	return filepath.Join(c.Storage.Path, EventsDBFilename)
}

// ServerCertPEM returns the pinned server certificate, or nil when none
// is configured.
func (c *Config) ServerCertPEM() ([]byte, error) {
	if c.TLS.CACertPath == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(c.TLS.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read CA cert %q: %w", c.TLS.CACertPath, err)
	}
	return pem, nil
}

// ClientCredentials looks the host up in the credentials file and loads
// its client certificate and key PEM material. A host with no section
// simply has no client credentials.
func (c *Config) ClientCredentials(host string) (certPEM, keyPEM []byte, err error) {
	if c.credentials == nil {
		return nil, nil, nil
	}
	section, err := c.credentials.GetSection(host)
	if err != nil {
		return nil, nil, nil
	}
	certPath := section.Key("client_cert").String()
	keyPath := section.Key("client_key").String()
	if certPath == "" || keyPath == "" {
		return nil, nil, nil
	}
	if certPEM, err = os.ReadFile(certPath); err != nil {
		return nil, nil, fmt.Errorf("config: failed to read client cert %q: %w", certPath, err)
	}
	if keyPEM, err = os.ReadFile(keyPath); err != nil {
		return nil, nil, fmt.Errorf("config: failed to read client key %q: %w", keyPath, err)
	}
	return certPEM, keyPEM, nil
}
