package relay

import (
	"encoding/json"
	"errors"

	"cowrite-server/core"
)

// Socket event names, client to server.
const (
	EventGetDocument  = "get-document"
	EventSendChanges  = "send-changes"
	EventUpdateTitle  = "update-title"
	EventSaveDocument = "save-document"
)

// Socket event names, server to client.
const (
	EventLoadDocument   = "load-document"
	EventReceiveChanges = "receive-changes"
	EventTitleUpdated   = "title-updated"
	EventError          = "error"
)

// ErrNotJoined is returned for document operations sent before a successful join.
var ErrNotJoined = errors.New("session has not joined a document")

type (
	// Message is one inbound client request. Which fields are meaningful
	// depends on Type.
	Message struct {
		Type       string
		DocumentID string
		// Title is the title hint for get-document and the new title for
		// update-title and save-document.
		Title string
		// Payload is the opaque operation for send-changes and the content
		// snapshot for save-document.
		Payload json.RawMessage
	}

	LoadPayload struct {
		Content core.EditLog `json:"content"`
		Title   string       `json:"title"`
	}

	ErrorPayload struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
)

func errorPayload(err error) ErrorPayload {
	return ErrorPayload{Message: err.Error(), Code: ErrorCode(err)}
}

// ErrorCode classifies err for clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return "not_found"
	case errors.Is(err, core.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, core.ErrValidation):
		return "validation_error"
	case errors.Is(err, core.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrNotJoined):
		return "not_joined"
	default:
		return "internal_error"
	}
}
