package message

import (
	"strings"
	"time"
)

// EventType is the interaction kind reported by the transport.
type EventType string

const (
	TypeText        EventType = "text"
	TypeButton      EventType = "button"
	TypeListReply   EventType = "list_reply"
	TypeLocation    EventType = "location"
	TypeUnsupported EventType = "unsupported"
)

// Event is a normalized inbound message.
type Event struct {
	MessageID   string    `json:"message_id"`
	From        string    `json:"from"`
	Type        EventType `json:"type"`
	Text        string    `json:"text,omitempty"`
	SelectionID string    `json:"selection_id,omitempty"`
	ContactName string    `json:"contact_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Input returns the selection id for button and list replies and the trimmed
// text otherwise.
func (e Event) Input() string {
	switch e.Type {
	case TypeButton, TypeListReply:
		if e.SelectionID != "" {
			return strings.TrimSpace(e.SelectionID)
		}
	}
	return strings.TrimSpace(e.Text)
}

// Validate reports the first missing mandatory field.
func (e Event) Validate() error {
	switch {
	case strings.TrimSpace(e.From) == "":
		return ErrMissingSender
	case e.MessageID == "":
		return ErrMissingMessageID
	}
	switch e.Type {
	case TypeText, TypeButton, TypeListReply, TypeLocation, TypeUnsupported:
		return nil
	default:
		return ErrUnknownType
	}
}
