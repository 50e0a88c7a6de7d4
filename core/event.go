package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type EventType string

const (
	EventThought EventType = "thought"
	EventPatch   EventType = "patch"
	EventCommit  EventType = "commit"
)

var (
	// ErrNotEvent marks lines that are not meant as events: blanks, prose and markdown fences.
	ErrNotEvent       = errors.New("line is not an event")
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrInvalidEvent   = errors.New("invalid event")
)

// Event is one line of model output in the project protocol.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	Path    string    `json:"path,omitempty"`
	Message string    `json:"message,omitempty"`
	Delete  bool      `json:"delete,omitempty"`
}

// ParseEvent decodes a single line.
func ParseEvent(line string) (Event, error) {
	var ev Event
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed[0] != '{' {
		return ev, ErrNotEvent
	}
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
		return ev, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	switch ev.Type {
	case EventThought:
	case EventPatch:
		if strings.TrimSpace(ev.Path) == "" {
			return ev, fmt.Errorf("%w: patch without path", ErrInvalidEvent)
		}
	case EventCommit:
		if ev.Message == "" {
			ev.Message = ev.Content
		}
	default:
		return ev, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	return ev, nil
}
