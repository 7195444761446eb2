// Package stream exposes proxy events to UI processes over a websocket. Each
// connection is registered as a subscriber for as long as it stays open.
package stream

import (
	"github.com/refinemirror/session-proxy/internal/profile"
	"github.com/refinemirror/session-proxy/internal/subscriber"
)

// Message is the JSON document written to the websocket for each event.
type Message struct {
	Type        string           `json:"type"`
	MissingInfo *bool            `json:"missingInfo,omitempty"`
	Profile     *profile.Profile `json:"profile,omitempty"`
	Message     string           `json:"message,omitempty"`
	Operation   string           `json:"operation,omitempty"`
}

// NewMessage converts an event to its wire form.
func NewMessage(ev subscriber.Event) Message {
	m := Message{
		Type:      ev.Kind.String(),
		Profile:   ev.Profile,
		Message:   ev.Message,
		Operation: ev.Operation,
	}

	if ev.Kind == subscriber.AuthSuccessful {
		missing := ev.MissingInfo
		m.MissingInfo = &missing
	}

	return m
}
