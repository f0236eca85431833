// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package urlcheck verifies firmware URLs before they are handed to the
// transfer engine.
package urlcheck

import (
	"fmt"
	"net/url"
)

// Verify rejects URLs the transfer engine could not possibly fetch:
// wrong scheme, missing host, or embedded control characters.
func Verify(raw string) error {
	for _, r := range raw {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("url contains a control character")
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("unparsable url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
