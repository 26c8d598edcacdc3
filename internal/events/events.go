// Package events carries realtime notifications from the core to connected UI clients.
package events

import (
	"context"
	"encoding/json"
)

const (
	NewMessage          = "newMessage"
	MessageStatusUpdate = "messageStatusUpdate"
	CampaignsUpdated    = "campaignsUpdated"
)

// Event is the envelope written to sockets and to the redis channel.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher emits a named event. Implementations must not block the caller
// on slow subscribers.
type Publisher interface {
	Publish(ctx context.Context, name string, payload interface{})
}

type NewMessagePayload struct {
	From        string      `json:"from"`
	RecipientID string      `json:"recipientId"`
	Message     interface{} `json:"message"`
}

type StatusPayload struct {
	WAMID         string `json:"wamid"`
	Status        string `json:"status"`
	FailureReason string `json:"failureReason,omitempty"`
	From          string `json:"from"`
}
