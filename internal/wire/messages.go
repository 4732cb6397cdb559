// Package wire defines the WebSocket protocol of the live editor: a client
// edits one session and receives computation results as they are merged.
package wire

import (
	stdjson "encoding/json"

	"github.com/matthewbaird/bidconfig/internal/editor"
	"github.com/matthewbaird/bidconfig/internal/projector"
	"github.com/matthewbaird/bidconfig/internal/store"
	"github.com/matthewbaird/bidconfig/internal/types"
	"github.com/matthewbaird/bidconfig/internal/validation"
)

// Client message types.
const (
	TypeSetField   = "set_field"
	TypeResolve    = "resolve"
	TypeReferences = "references"
	TypeConfirm    = "confirm"
	TypeCancel     = "cancel"
	TypePing       = "ping"
)

// Server message types.
const (
	TypeState             = "state"
	TypeComputed          = "computed"
	TypeComputationFailed = "computation_failed"
	TypeValidation        = "validation"
	TypeConfirmed         = "confirmed"
	TypeCancelled         = "cancelled"
	TypeCandidates        = "candidates"
	TypeError             = "error"
	TypePong              = "pong"
)

// ClientMessage is the envelope for all client-to-server messages.
type ClientMessage struct {
	Type string             `json:"type"`
	ID   string             `json:"id"` // client-assigned request id
	Data stdjson.RawMessage `json:"data,omitempty"`
}

// SetFieldData is the payload of "set_field".
type SetFieldData struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// ReferencesData is the payload of "references".
type ReferencesData struct {
	Field  string `json:"field"`
	Search string `json:"search"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// ServerMessage is the envelope for all server-to-client messages.
type ServerMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"` // echoes the client id
	Data      any    `json:"data,omitempty"`
}

// StateData is the full session state.
type StateData struct {
	editor.View
	Columns []projector.Unit  `json:"columns"`
	Labels  map[string]string `json:"labels"`
	Changed []string          `json:"changed,omitempty"`
}

// ComputedData carries merged computation results.
type ComputedData struct {
	Values types.Record `json:"values"`
}

// ValidationData lists the fields blocking confirmation.
type ValidationData struct {
	Fields []validation.FieldError `json:"fields"`
}

// ConfirmedData carries the saved transaction.
type ConfirmedData struct {
	Transaction *store.Transaction `json:"transaction"`
}

// ErrorData carries an error message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
