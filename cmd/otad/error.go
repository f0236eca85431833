// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"fmt"
	"os"
)

// DieNotNil prints the error to stderr and exits with code 1.
func DieNotNil(err error, message ...string) {
	DieNotNilWithCode(err, 1, message...)
}

// DieNotNilWithCode prints the error to stderr and exits with the given
// code. Nil errors pass through silently.
func DieNotNilWithCode(err error, exitCode int, message ...string) {
	if err == nil {
		return
	}
	parts := []interface{}{"ERROR:"}
	for _, p := range message {
		parts = append(parts, p)
	}
	parts = append(parts, err)
	fmt.Fprintln(os.Stderr, parts...)
	os.Exit(exitCode)
}
