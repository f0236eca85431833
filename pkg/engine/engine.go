// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package engine defines the firmware transfer engine consumed by the
// update worker, plus the default HTTPS implementation. One engine
// session covers the begin/describe/size/perform/finish phase protocol
// of a single firmware download.
package engine

import (
	"context"
)

type (
	// TLSConfig carries the transport security material for one job.
	// Hostname verification is always on; there is no knob to skip it.
	TLSConfig struct {
		// ServerCertPEM pins the server certificate chain; empty means
		// rely on UseSystemCAs.
		ServerCertPEM []byte
		// UseSystemCAs selects the system trust store in addition to,
		// or instead of, ServerCertPEM.
		UseSystemCAs bool
		// ClientCertPEM/ClientKeyPEM enable mutual TLS when both are set.
		ClientCertPEM []byte
		ClientKeyPEM  []byte
	}

	// ImageDescriptor is the firmware image metadata reported by the
	// engine once the describe phase succeeds.
	ImageDescriptor struct {
		Version   string `json:"version"`
		Project   string `json:"project"`
		BuildDate string `json:"build_date"`
		SHA256    string `json:"sha256"`
	}

	// Engine opens transfer sessions.
	Engine interface {
		// Begin opens the transfer for the given firmware URL. A non-nil
		// error aborts the job with no further phase calls.
		Begin(ctx context.Context, url string, tlsCfg TLSConfig) (Session, error)
	}

	// Session drives one firmware transfer. Exactly one of Finish or
	// Close must be called to release the session.
	Session interface {
		// DescribeImage returns the image metadata. Failures are
		// tolerated by the caller; they degrade reporting only.
		DescribeImage() (*ImageDescriptor, error)
		// TotalSize returns the full image size in bytes, or a
		// non-positive value when the size is unknown.
		TotalSize() int64
		// PerformChunk transfers one bounded unit of the image. It
		// returns done=true once the whole image has been read.
		PerformChunk(ctx context.Context) (done bool, err error)
		// BytesRead reports the cumulative bytes transferred so far.
		BytesRead() int64
		// Finish validates and commits the downloaded image.
		Finish(ctx context.Context) error
		// Close tears the session down without committing anything.
		Close() error
	}
)
