// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package events records update lifecycle events in a local SQLite
// journal so terminal outcomes survive the device restart that follows
// a successful update.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	UpdateTriggered EventType = "OtaUpdateTriggered"
	UpdateAborted   EventType = "OtaUpdateAborted"
	UpdateCompleted EventType = "OtaUpdateCompleted"
)

type UpdateEvent struct {
	ID         string    `json:"id"`
	DeviceTime string    `json:"deviceTime"`
	Type       EventType `json:"eventType"`
	JobID      string    `json:"jobId"`
	URL        string    `json:"url"`
	Success    *bool     `json:"success,omitempty"`
	Details    string    `json:"details,omitempty"`
}

func New(eventType EventType, jobID, url string, success *bool, details string) *UpdateEvent {
	return &UpdateEvent{
		ID:         uuid.New().String(),
		DeviceTime: time.Now().Format(time.RFC3339),
		Type:       eventType,
		JobID:      jobID,
		URL:        url,
		Success:    success,
		Details:    details,
	}
}
