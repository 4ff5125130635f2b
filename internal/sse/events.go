// Package sse streams change records and watch errors to HTTP clients as
// Server-Sent Events.
package sse

import (
	"time"

	"github.com/listenupapp/dirwatch/internal/errors"
	"github.com/listenupapp/dirwatch/internal/snapshot"
)

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventChangeCreated is sent for a Created change record.
	EventChangeCreated EventType = "change.created"
	// EventChangeModified is sent for a Modified change record.
	EventChangeModified EventType = "change.modified"
	// EventChangeDeleted is sent for a Deleted change record.
	EventChangeDeleted EventType = "change.deleted"

	// EventWatchError is sent when a watch reports a non-fatal error.
	EventWatchError EventType = "watch.error"

	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
)

// Event represents an SSE event to be sent to clients.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`

	// Watch restricts delivery to clients subscribed to this watch.
	// Empty means every client receives the event.
	Watch string `json:"-"`
}

// ChangeEventData is the data payload for change events.
type ChangeEventData struct {
	ObservedAt time.Time           `json:"observed_at"`
	Watch      string              `json:"watch"`
	Path       string              `json:"path"`
	Kind       snapshot.ChangeKind `json:"kind"`
}

// WatchErrorEventData is the data payload for watch error events.
type WatchErrorEventData struct {
	Watch   string      `json:"watch"`
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
}

// HeartbeatEventData is the data payload for heartbeat events.
type HeartbeatEventData struct {
	ServerTime time.Time `json:"server_time"`
	Clients    int       `json:"clients"`
}

// changeEventTypes maps change kinds onto event types.
var changeEventTypes = map[snapshot.ChangeKind]EventType{
	snapshot.Created:  EventChangeCreated,
	snapshot.Modified: EventChangeModified,
	snapshot.Deleted:  EventChangeDeleted,
}

// NewChangeEvent creates a change.* event for one record of watch.
func NewChangeEvent(watch string, r snapshot.ChangeRecord) Event {
	return Event{
		Type: changeEventTypes[r.Kind],
		Data: ChangeEventData{
			ObservedAt: r.ObservedAt,
			Watch:      watch,
			Path:       string(r.Path),
			Kind:       r.Kind,
		},
		Watch:     watch,
		Timestamp: time.Now(),
	}
}

// NewWatchErrorEvent creates a watch.error event.
func NewWatchErrorEvent(watch string, err error) Event {
	return Event{
		Type: EventWatchError,
		Data: WatchErrorEventData{
			Watch:   watch,
			Code:    errors.CodeOf(err),
			Message: err.Error(),
		},
		Watch:     watch,
		Timestamp: time.Now(),
	}
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent(clients int) Event {
	return Event{
		Type: EventHeartbeat,
		Data: HeartbeatEventData{
			ServerTime: time.Now(),
			Clients:    clients,
		},
		Timestamp: time.Now(),
	}
}
