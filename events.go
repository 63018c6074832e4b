package tdev

import "time"

// Event represents a run lifecycle event.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Pipeline  string    `json:"pipeline"`
	Stage     string    `json:"stage,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Progress is the fraction of stages finished (0.0-1.0)
	Progress float64 `json:"progress,omitempty"`

	// Message is a human-readable progress note
	Message string `json:"message,omitempty"`

	// Error is set for failure events
	Error string `json:"error,omitempty"`
}

// EventType identifies the kind of event.
type EventType string

const (
	EventRunStarted     EventType = "run.started"
	EventStageStarted   EventType = "stage.started"
	EventStageCompleted EventType = "stage.completed"
	EventStageRetrying  EventType = "stage.retrying"
	EventRunCompleted   EventType = "run.completed"
	EventRunFailed      EventType = "run.failed"
	EventRunCanceled    EventType = "run.canceled"
)
