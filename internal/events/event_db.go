// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package events

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Journal persists update events to a SQLite file.
type Journal struct {
	dbFilePath string
}

func NewJournal(dbFilePath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Err(closeErr).Msgf("failed to close database")
		}
	}()

	_, err = db.Exec("CREATE TABLE IF NOT EXISTS update_events(id INTEGER PRIMARY KEY, json_string TEXT NOT NULL);")
	if err != nil {
		return nil, fmt.Errorf("failed to create update_events table: %w", err)
	}
	return &Journal{dbFilePath: dbFilePath}, nil
}

func (j *Journal) Record(event *UpdateEvent) error {
	db, err := sql.Open("sqlite", j.dbFilePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Err(closeErr).Msgf("failed to close database")
		}
	}()

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON: %w", err)
	}

	_, err = db.Exec("INSERT INTO update_events (json_string) VALUES (?);", string(eventJSON))
	if err != nil {
		return fmt.Errorf("failed to insert event into update_events: %w", err)
	}
	return nil
}

// List returns all journaled events along with the highest row id, which
// callers hand back to Prune once the events have been consumed.
func (j *Journal) List() ([]UpdateEvent, int, error) {
	db, err := sql.Open("sqlite", j.dbFilePath)
	if err != nil {
		return nil, -1, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Err(closeErr).Msgf("failed to close database")
		}
	}()

	rows, err := db.Query("SELECT id, json_string FROM update_events;")
	if err != nil {
		return nil, -1, fmt.Errorf("failed to select events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Err(closeErr).Msgf("failed to close rows")
		}
	}()

	maxID := -1
	var eventsList []UpdateEvent
	for rows.Next() {
		var eventData string
		var id int
		if err := rows.Scan(&id, &eventData); err != nil {
			return nil, -1, fmt.Errorf("failed to scan event data: %w", err)
		}

		var event UpdateEvent
		if err := json.Unmarshal([]byte(eventData), &event); err != nil {
			return nil, -1, fmt.Errorf("failed to unmarshal event data: %w", err)
		}

		if maxID < id {
			maxID = id
		}
		eventsList = append(eventsList, event)
	}
	if err := rows.Err(); err != nil {
		return nil, -1, fmt.Errorf("error iterating over rows: %w", err)
	}
	return eventsList, maxID, nil
}

func (j *Journal) Prune(maxID int) error {
	db, err := sql.Open("sqlite", j.dbFilePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Err(closeErr).Msgf("failed to close database")
		}
	}()

	_, err = db.Exec("DELETE FROM update_events WHERE id <= ?;", maxID)
	if err != nil {
		return fmt.Errorf("failed to delete events from update_events: %w", err)
	}
	return nil
}
