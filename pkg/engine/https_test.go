// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func serveImage(t *testing.T, payload []byte, withDescriptor bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if withDescriptor {
			digest := sha256.Sum256(payload)
			w.Header().Set(HeaderImageVersion, "2.0.1")
			w.Header().Set(HeaderImageProject, "widget-fw")
			w.Header().Set(HeaderImageBuildDate, "2026-08-01")
			w.Header().Set(HeaderImageSHA256, hex.EncodeToString(digest[:]))
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(payload)))
		_, _ = w.Write(payload)
	}))
}

func drainSession(t *testing.T, s Session) {
	t.Helper()
	for {
		done, err := s.PerformChunk(context.Background())
		require.Nil(t, err)
		if done {
			return
		}
	}
}

func TestHTTPSEngine_FullTransfer(t *testing.T) {
	payload := []byte("firmware image bytes, definitely not random padding 0123456789")
	srv := serveImage(t, payload, true)
	defer srv.Close()

	storage := t.TempDir()
	eng := &HTTPSEngine{StorageDir: storage, ChunkSize: 8}

	session, err := eng.Begin(context.Background(), srv.URL, TLSConfig{})
	require.Nil(t, err)

	desc, err := session.DescribeImage()
	require.Nil(t, err)
	require.Equal(t, "2.0.1", desc.Version)
	require.Equal(t, "widget-fw", desc.Project)
	require.Equal(t, "2026-08-01", desc.BuildDate)

	require.Equal(t, int64(len(payload)), session.TotalSize())

	drainSession(t, session)
	require.Equal(t, int64(len(payload)), session.BytesRead())

	require.Nil(t, session.Finish(context.Background()))

	committed, err := os.ReadFile(filepath.Join(storage, ImageFilename))
	require.Nil(t, err)
	require.Equal(t, payload, committed)

	_, err = os.Stat(filepath.Join(storage, stagingFilename))
	require.True(t, os.IsNotExist(err))
}

func TestHTTPSEngine_DigestMismatchFailsFinish(t *testing.T) {
	payload := []byte("image payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderImageVersion, "2.0.1")
		w.Header().Set(HeaderImageSHA256, "deadbeef")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	storage := t.TempDir()
	eng := &HTTPSEngine{StorageDir: storage}

	session, err := eng.Begin(context.Background(), srv.URL, TLSConfig{})
	require.Nil(t, err)
	drainSession(t, session)

	err = session.Finish(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "digest mismatch")

	// A failed finish leaves neither a committed image nor staging junk.
	_, err = os.Stat(filepath.Join(storage, ImageFilename))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(storage, stagingFilename))
	require.True(t, os.IsNotExist(err))
}

func TestHTTPSEngine_MissingDescriptorDegradesOnly(t *testing.T) {
	payload := []byte("headerless firmware")
	srv := serveImage(t, payload, false)
	defer srv.Close()

	eng := &HTTPSEngine{StorageDir: t.TempDir()}
	session, err := eng.Begin(context.Background(), srv.URL, TLSConfig{})
	require.Nil(t, err)

	_, descErr := session.DescribeImage()
	require.Error(t, descErr)

	drainSession(t, session)
	require.Nil(t, session.Finish(context.Background()))
}

func TestHTTPSEngine_CloseRemovesStaging(t *testing.T) {
	payload := make([]byte, 64*1024)
	srv := serveImage(t, payload, true)
	defer srv.Close()

	storage := t.TempDir()
	eng := &HTTPSEngine{StorageDir: storage, ChunkSize: 1024}
	session, err := eng.Begin(context.Background(), srv.URL, TLSConfig{})
	require.Nil(t, err)

	done, err := session.PerformChunk(context.Background())
	require.Nil(t, err)
	require.False(t, done)

	require.Nil(t, session.Close())
	_, err = os.Stat(filepath.Join(storage, stagingFilename))
	require.True(t, os.IsNotExist(err))
}

func TestHTTPSEngine_RejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	eng := &HTTPSEngine{StorageDir: t.TempDir()}
	_, err := eng.Begin(context.Background(), srv.URL, TLSConfig{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "HTTP_404")
}

func TestHTTPSEngine_PinnedServerCertificate(t *testing.T) {
	payload := []byte("tls firmware")
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderImageVersion, "2.0.1")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})

	eng := &HTTPSEngine{StorageDir: t.TempDir()}
	session, err := eng.Begin(context.Background(), srv.URL, TLSConfig{ServerCertPEM: certPEM})
	require.Nil(t, err)
	drainSession(t, session)
	require.Nil(t, session.Finish(context.Background()))

	// Without the pinned certificate the handshake must fail.
	_, err = eng.Begin(context.Background(), srv.URL, TLSConfig{})
	require.Error(t, err)
}
