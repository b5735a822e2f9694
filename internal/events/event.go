package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type is the type field of an event stream message.
type Type string

// Control message types. They are handled by the client and never
// dispatched.
const (
	TypePing Type = "ping"
	TypePong Type = "pong"
)

// Event types published by the archive.
const (
	TypeDocumentCreated    Type = "document.created"
	TypeDocumentUpdated    Type = "document.updated"
	TypeDocumentDeleted    Type = "document.deleted"
	TypeDocumentProcessed  Type = "document.processed"
	TypeDocumentProcessing Type = "document.processing"
	TypeTagCreated         Type = "tag.created"
	TypeTagUpdated         Type = "tag.updated"
	TypeTagDeleted         Type = "tag.deleted"
	TypeShareCreated       Type = "share.created"
)

// KnownTypes returns every event type the archive publishes.
func KnownTypes() []Type {
	return []Type{
		TypeDocumentCreated, TypeDocumentUpdated, TypeDocumentDeleted,
		TypeDocumentProcessed, TypeDocumentProcessing,
		TypeTagCreated, TypeTagUpdated, TypeTagDeleted,
		TypeShareCreated,
	}
}

// ErrMissingType is returned by Decode for a message without a type.
var ErrMissingType = errors.New("event has no type")

// message is the wire shape of every frame in both directions.
type message struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Event is a decoded event stream message. It is not modified after
// dispatch starts; handlers must treat it as read-only.
type Event struct {
	Type Type

	// Timestamp is the server's timestamp string, verbatim.
	Timestamp string

	// Data is the raw data object.
	Data json.RawMessage

	// Payload is Data decoded according to Type.
	Payload Payload
}

// Time parses Timestamp as RFC 3339.
func (e Event) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

// Payload is implemented by DocumentPayload, TagPayload,
// ShareNotification, ProcessingProgress and UnknownPayload.
type Payload interface {
	eventPayload()
}

// DocumentPayload accompanies document.created, document.updated,
// document.deleted and document.processed.
type DocumentPayload struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title,omitempty"`
	Filename   string `json:"filename,omitempty"`
	Status     string `json:"status,omitempty"`
	OwnerID    string `json:"owner_id,omitempty"`
}

// TagPayload accompanies tag.created, tag.updated and tag.deleted.
type TagPayload struct {
	TagID string `json:"tag_id"`
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
}

// ShareNotification accompanies share.created.
type ShareNotification struct {
	DocumentID    string `json:"document_id"`
	DocumentTitle string `json:"document_title,omitempty"`
	SharedBy      string `json:"shared_by,omitempty"`
	Permission    string `json:"permission,omitempty"`
}

// ProcessingProgress accompanies document.processing. Progress is a
// percentage from 0 to 100.
type ProcessingProgress struct {
	DocumentID string  `json:"document_id"`
	Stage      string  `json:"stage,omitempty"`
	Progress   float64 `json:"progress"`
	Message    string  `json:"message,omitempty"`
}

// UnknownPayload holds the data of a type this client does not model.
type UnknownPayload struct {
	Fields map[string]any
}

func (DocumentPayload) eventPayload()    {}
func (TagPayload) eventPayload()         {}
func (ShareNotification) eventPayload()  {}
func (ProcessingProgress) eventPayload() {}
func (UnknownPayload) eventPayload()     {}

// Decode parses one wire message.
func Decode(raw []byte) (Event, error) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, fmt.Errorf("decoding event: %w", err)
	}
	if msg.Type == "" {
		return Event{}, ErrMissingType
	}

	ev := Event{Type: msg.Type, Timestamp: msg.Timestamp, Data: msg.Data}
	payload, err := decodePayload(msg.Type, msg.Data)
	if err != nil {
		return Event{}, fmt.Errorf("decoding %s payload: %w", msg.Type, err)
	}
	ev.Payload = payload
	return ev, nil
}

func decodePayload(t Type, data json.RawMessage) (Payload, error) {
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	switch t {
	case TypeDocumentCreated, TypeDocumentUpdated, TypeDocumentDeleted, TypeDocumentProcessed:
		return unmarshalAs[DocumentPayload](data)
	case TypeDocumentProcessing:
		return unmarshalAs[ProcessingProgress](data)
	case TypeTagCreated, TypeTagUpdated, TypeTagDeleted:
		return unmarshalAs[TagPayload](data)
	case TypeShareCreated:
		return unmarshalAs[ShareNotification](data)
	default:
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
		return UnknownPayload{Fields: fields}, nil
	}
}

func unmarshalAs[T Payload](data json.RawMessage) (Payload, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
