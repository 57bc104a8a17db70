package deployment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventKind discriminates the messages delivered on the log stream
type EventKind string

const (
	// EventInitial replaces the log buffer wholesale
	EventInitial EventKind = "initial"
	// EventUpdate appends to the log buffer
	EventUpdate EventKind = "update"
	// EventHeartbeat carries only a status refresh
	EventHeartbeat EventKind = "heartbeat"
	// EventFinal marks the deployment as finished
	EventFinal EventKind = "final"
)

// ErrInvalidEvent is returned for stream payloads that fail validation
var ErrInvalidEvent = errors.New("invalid stream event")

// StreamEvent is one validated message from the log stream
type StreamEvent struct {
	Kind      EventKind
	Logs      string
	HasLogs   bool
	Status    Status
	Completed bool
	Error     string
}

// IsFinal reports whether the event terminates the stream
func (e StreamEvent) IsFinal() bool {
	return e.Kind == EventFinal || e.Completed
}

// wireEvent mirrors the JSON the backend sends. Pointers distinguish
// absent fields from zero values.
type wireEvent struct {
	Type      *string `json:"type"`
	Logs      *string `json:"logs"`
	Status    *string `json:"status"`
	Completed *bool   `json:"completed"`
	Complete  *bool   `json:"complete"`
	Error     *string `json:"error"`
}

// ParseStreamEvent validates a JSON payload taken from a "data:" line.
//
// An event without a type is classified from its content: logs make it an
// update, a completion flag makes it final, anything else is a heartbeat.
func ParseStreamEvent(payload []byte) (StreamEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return StreamEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	ev := StreamEvent{}
	if w.Logs != nil {
		ev.Logs = *w.Logs
		ev.HasLogs = true
	}
	if w.Status != nil {
		ev.Status = ParseStatus(*w.Status)
	}
	if w.Completed != nil && *w.Completed {
		ev.Completed = true
	}
	if w.Complete != nil && *w.Complete {
		ev.Completed = true
	}
	if w.Error != nil {
		ev.Error = strings.TrimSpace(*w.Error)
	}

	kind := ""
	if w.Type != nil {
		kind = strings.ToLower(strings.TrimSpace(*w.Type))
	}
	switch EventKind(kind) {
	case EventInitial, EventUpdate, EventHeartbeat, EventFinal:
		ev.Kind = EventKind(kind)
	case "completed", "complete", "done":
		ev.Kind = EventFinal
	case "":
		switch {
		case ev.Completed:
			ev.Kind = EventFinal
		case ev.HasLogs:
			ev.Kind = EventUpdate
		case ev.Status != "":
			ev.Kind = EventHeartbeat
		default:
			return StreamEvent{}, fmt.Errorf("%w: empty payload", ErrInvalidEvent)
		}
	default:
		if !ev.Completed {
			return StreamEvent{}, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, kind)
		}
		ev.Kind = EventFinal
	}

	if (ev.Kind == EventInitial || ev.Kind == EventUpdate) && !ev.HasLogs {
		return StreamEvent{}, fmt.Errorf("%w: %s event without logs", ErrInvalidEvent, ev.Kind)
	}

	return ev, nil
}
