// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package engine

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Image metadata response headers. A firmware server that does not set
// them only loses the describe phase, never the transfer itself.
const (
	HeaderImageVersion   = "X-Firmware-Version"
	HeaderImageProject   = "X-Firmware-Project"
	HeaderImageBuildDate = "X-Firmware-Build-Date"
	HeaderImageSHA256    = "X-Firmware-Sha256"
)

const (
	DefaultChunkSize = 4096
	// ImageFilename is the committed image name under the storage dir.
	ImageFilename   = "firmware.bin"
	stagingFilename = ".firmware.bin.part"
)

type (
	// HTTPSEngine downloads firmware images over HTTP(S) into a staging
	// file under StorageDir, verifying the image digest on Finish and
	// committing it with an atomic rename.
	HTTPSEngine struct {
		// StorageDir is where staging and committed images live.
		StorageDir string
		// ChunkSize bounds the bytes moved per PerformChunk call;
		// DefaultChunkSize when non-positive.
		ChunkSize int
		// Timeout bounds the whole HTTP exchange; zero means no limit,
		// which is usually what a firmware download wants.
		Timeout time.Duration
	}

	httpsSession struct {
		resp      *http.Response
		staging   *os.File
		stagePath string
		finalPath string
		chunk     []byte
		digest    hash.Hash
		desc      *ImageDescriptor
		descErr   error
		totalSize int64
		bytesRead int64
		closed    bool
	}
)

var _ Engine = (*HTTPSEngine)(nil)

func (e *HTTPSEngine) Begin(ctx context.Context, url string, tlsCfg TLSConfig) (Session, error) {
	tlsClientConfig, err := newTLSClientConfig(tlsCfg)
	if err != nil {
		return nil, err
	}
	client := &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsClientConfig},
		Timeout:   e.Timeout,
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create firmware request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open firmware transfer: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("firmware server returned HTTP_%d", resp.StatusCode)
	}

	if err := os.MkdirAll(e.StorageDir, 0o755); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	stagePath := filepath.Join(e.StorageDir, stagingFilename)
	staging, err := os.OpenFile(stagePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}

	chunkSize := e.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	s := &httpsSession{
		resp:      resp,
		staging:   staging,
		stagePath: stagePath,
		finalPath: filepath.Join(e.StorageDir, ImageFilename),
		chunk:     make([]byte, chunkSize),
		digest:    sha256.New(),
		totalSize: resp.ContentLength,
	}
	s.desc, s.descErr = descriptorFromHeaders(resp.Header)
	return s, nil
}

func newTLSClientConfig(tlsCfg TLSConfig) (*tls.Config, error) {
	out := &tls.Config{}
	if len(tlsCfg.ServerCertPEM) > 0 {
		pool := x509.NewCertPool()
		if tlsCfg.UseSystemCAs {
			var err error
			if pool, err = x509.SystemCertPool(); err != nil {
				slog.Warn("system cert pool unavailable, using pinned certificate only", "error", err)
				pool = x509.NewCertPool()
			}
		}
		if !pool.AppendCertsFromPEM(tlsCfg.ServerCertPEM) {
			return nil, fmt.Errorf("no usable certificate in server cert PEM")
		}
		out.RootCAs = pool
	}
	// Neither a pinned cert nor UseSystemCAs set falls through to the
	// system roots anyway; refusing to verify is not an option.
	if len(tlsCfg.ClientCertPEM) > 0 && len(tlsCfg.ClientKeyPEM) > 0 {
		cert, err := tls.X509KeyPair(tlsCfg.ClientCertPEM, tlsCfg.ClientKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load client keypair: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}

func descriptorFromHeaders(h http.Header) (*ImageDescriptor, error) {
	desc := &ImageDescriptor{
		Version:   h.Get(HeaderImageVersion),
		Project:   h.Get(HeaderImageProject),
		BuildDate: h.Get(HeaderImageBuildDate),
		SHA256:    strings.ToLower(h.Get(HeaderImageSHA256)),
	}
	if desc.Version == "" {
		return nil, fmt.Errorf("firmware server sent no %s header", HeaderImageVersion)
	}
	return desc, nil
}

func (s *httpsSession) DescribeImage() (*ImageDescriptor, error) {
	return s.desc, s.descErr
}

func (s *httpsSession) TotalSize() int64 {
	return s.totalSize
}

func (s *httpsSession) BytesRead() int64 {
	return s.bytesRead
}

func (s *httpsSession) PerformChunk(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	n, err := io.ReadFull(s.resp.Body, s.chunk)
	if n > 0 {
		if _, werr := s.staging.Write(s.chunk[:n]); werr != nil {
			return false, fmt.Errorf("failed to write staging file: %w", werr)
		}
		s.digest.Write(s.chunk[:n])
		s.bytesRead += int64(n)
	}
	switch err {
	case nil:
		return false, nil
	case io.EOF, io.ErrUnexpectedEOF:
		return true, nil
	default:
		return false, fmt.Errorf("failed to read firmware body: %w", err)
	}
}

// Finish verifies the image digest against the server-reported one, if
// any, and commits the staging file to its final path.
func (s *httpsSession) Finish(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.discard()
	if s.totalSize > 0 && s.bytesRead != s.totalSize {
		return fmt.Errorf("incomplete image: read %d of %d bytes", s.bytesRead, s.totalSize)
	}
	if s.desc != nil && s.desc.SHA256 != "" {
		if got := hex.EncodeToString(s.digest.Sum(nil)); got != s.desc.SHA256 {
			return fmt.Errorf("image digest mismatch: got %s, want %s", got, s.desc.SHA256)
		}
	}
	if err := s.staging.Sync(); err != nil {
		return fmt.Errorf("failed to sync staging file: %w", err)
	}
	if err := s.staging.Close(); err != nil {
		return fmt.Errorf("failed to close staging file: %w", err)
	}
	if err := os.Rename(s.stagePath, s.finalPath); err != nil {
		return fmt.Errorf("failed to commit image: %w", err)
	}
	_ = s.resp.Body.Close()
	s.closed = true
	return nil
}

// Close releases the session without committing; the staging file is
// removed so a failed job leaves no partial image behind.
func (s *httpsSession) Close() error {
	s.discard()
	return nil
}

func (s *httpsSession) discard() {
	if s.closed {
		return
	}
	s.closed = true
	_ = s.resp.Body.Close()
	_ = s.staging.Close()
	if err := os.Remove(s.stagePath); err != nil && !os.IsNotExist(err) {
		slog.Debug("failed to remove staging file", "path", s.stagePath, "error", err)
	}
}
