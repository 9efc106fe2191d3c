package model

import (
	"encoding/json"
)

// ChangeType is the kind of row change carried by a feed event.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// MessagesTable is the table name used in message change events.
const MessagesTable = "messages"

// ChangeEvent is the envelope published on the realtime feed.
type ChangeEvent struct {
	Type   ChangeType      `json:"type" validate:"required,oneof=INSERT UPDATE DELETE"`
	Table  string          `json:"table" validate:"required"`
	Record json.RawMessage `json:"record" validate:"required"`
}

// NewInsertEvent wraps a message in an insert envelope.
func NewInsertEvent(msg *Message) ([]byte, error) {
	record, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&ChangeEvent{
		Type:   ChangeInsert,
		Table:  MessagesTable,
		Record: record,
	})
}
