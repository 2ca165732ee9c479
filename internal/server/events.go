package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

type StateChangedEvent struct {
	Event
	State string `json:"state"`
	RunID string `json:"run_id,omitempty"`
}

type EntryAppendedEvent struct {
	Event
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

type TurnCompletedEvent struct {
	Event
	RunID string `json:"run_id"`
}

type TurnFailedEvent struct {
	Event
	RunID string `json:"run_id"`
	Stage string `json:"stage,omitempty"`
	Error string `json:"error"`
}

type SessionEndedEvent struct {
	Event
	Reason string `json:"reason"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
