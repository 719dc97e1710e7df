package datastore

import "github.com/plenumhq/plenum/internal/keys"

// EventType discriminates write events.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is one atomic change inside a write request. Delete events carry no
// fields key.
type Event struct {
	Type   EventType      `json:"type"`
	FQID   keys.FQID      `json:"fqid"`
	Fields map[string]any `json:"fields,omitempty"`
}

// WriteRequest is the payload of the writer's write endpoint. The action
// layer assembles events and information; Client.Write attaches the locked
// fields it accumulated while reading.
type WriteRequest struct {
	Events       []Event             `json:"events"`
	Information  map[string][]string `json:"information"`
	UserID       int                 `json:"user_id"`
	LockedFields map[string]int      `json:"locked_fields"`
}
