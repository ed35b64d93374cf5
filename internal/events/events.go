// Package events provides an event system for chunk migration notifications.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventMigrationStart is emitted once the migration lock has been acquired
	EventMigrationStart EventType = "migration_start"
	// EventMigrationSuccess is emitted when the moveChunk command completed
	EventMigrationSuccess EventType = "migration_success"
	// EventMigrationFailed is emitted when planning or moveChunk failed
	EventMigrationFailed EventType = "migration_failed"
	// EventMigrationSkipped is emitted when another migration held the lock
	EventMigrationSkipped EventType = "migration_skipped"
)

// Event represents a migration event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Namespace string `json:"namespace,omitempty"`
	ChunkID   string `json:"chunk_id,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Duration  string `json:"duration,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewMigrationStartEvent creates a migration start event
func NewMigrationStartEvent(userID, namespace string) Event {
	return Event{
		Type:      EventMigrationStart,
		Timestamp: time.Now(),
		UserID:    userID,
		Data: EventData{
			Namespace: namespace,
		},
	}
}

// NewMigrationSuccessEvent creates a migration success event
func NewMigrationSuccessEvent(userID, namespace, chunkID, from, to string, took time.Duration) Event {
	return Event{
		Type:      EventMigrationSuccess,
		Timestamp: time.Now(),
		UserID:    userID,
		Data: EventData{
			Namespace: namespace,
			ChunkID:   chunkID,
			From:      from,
			To:        to,
			Duration:  took.String(),
		},
	}
}

// NewMigrationFailedEvent creates a migration failed event
func NewMigrationFailedEvent(userID, namespace string, err error) Event {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return Event{
		Type:      EventMigrationFailed,
		Timestamp: time.Now(),
		UserID:    userID,
		Data: EventData{
			Namespace: namespace,
			Error:     errMsg,
		},
	}
}

// NewMigrationSkippedEvent creates a migration skipped event
func NewMigrationSkippedEvent(userID, namespace string) Event {
	return Event{
		Type:      EventMigrationSkipped,
		Timestamp: time.Now(),
		UserID:    userID,
		Data: EventData{
			Namespace: namespace,
		},
	}
}
