// Package events provides an event system for load test progress notifications.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventRunStarted is emitted once the batch has been shuffled and dispatch begins
	EventRunStarted EventType = "run_started"
	// EventRunCompleted is emitted after the completion tracker reached zero or the wait was interrupted
	EventRunCompleted EventType = "run_completed"
	// EventTaskThrottled is emitted when a write was throttled and a backoff wait is scheduled
	EventTaskThrottled EventType = "task_throttled"
	// EventTaskCompleted is emitted when a write task reaches a terminal outcome
	EventTaskCompleted EventType = "task_completed"
)

// Event represents a load test event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
	RecordID  string    `json:"record_id,omitempty"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Outcome  string `json:"outcome,omitempty"`
	Class    string `json:"class,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
	Backoff  string `json:"backoff,omitempty"`
	Total    int    `json:"total,omitempty"`
	Pending  int    `json:"pending,omitempty"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewRunStartedEvent creates a run started event
func NewRunStartedEvent(runID string, total int) Event {
	return Event{
		Type:      EventRunStarted,
		Timestamp: time.Now(),
		RunID:     runID,
		Data: EventData{
			Total: total,
		},
	}
}

// NewRunCompletedEvent creates a run completed event
func NewRunCompletedEvent(runID string, total, pending int, duration time.Duration, err error) Event {
	return Event{
		Type:      EventRunCompleted,
		Timestamp: time.Now(),
		RunID:     runID,
		Data: EventData{
			Total:    total,
			Pending:  pending,
			Duration: duration.String(),
			Error:    errString(err),
		},
	}
}

// NewTaskThrottledEvent creates an event for a throttled write that will be retried
func NewTaskThrottledEvent(runID, recordID string, attempt int, backoff time.Duration, class string) Event {
	return Event{
		Type:      EventTaskThrottled,
		Timestamp: time.Now(),
		RunID:     runID,
		RecordID:  recordID,
		Data: EventData{
			Class:   class,
			Attempt: attempt,
			Backoff: backoff.String(),
		},
	}
}

// NewTaskCompletedEvent creates an event for a task that reached a terminal outcome
func NewTaskCompletedEvent(runID, recordID, outcome string, attempts int, err error) Event {
	return Event{
		Type:      EventTaskCompleted,
		Timestamp: time.Now(),
		RunID:     runID,
		RecordID:  recordID,
		Data: EventData{
			Outcome: outcome,
			Attempt: attempts,
			Error:   errString(err),
		},
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
