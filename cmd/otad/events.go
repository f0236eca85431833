// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foundriesio/asyncota/internal/events"
)

type eventsOptions struct {
	prune bool
}

func init() {
	opts := eventsOptions{}
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show journaled update events",
		Run: func(cmd *cobra.Command, args []string) {
			doEvents(&opts)
		},
		Args: cobra.NoArgs,
	}
	cmd.Flags().BoolVar(&opts.prune, "prune", false, "Remove the listed events from the journal")
	rootCmd.AddCommand(cmd)
}

func doEvents(opts *eventsOptions) {
	journal, err := events.NewJournal(config.EventsDBPath())
	DieNotNil(err, "Failed to open event journal")

	evts, maxID, err := journal.List()
	DieNotNil(err, "Failed to list events")

	out, err := json.MarshalIndent(evts, "", "  ")
	DieNotNil(err)
	fmt.Println(string(out))

	if opts.prune && maxID >= 0 {
		DieNotNil(journal.Prune(maxID), "Failed to prune events")
	}
}
