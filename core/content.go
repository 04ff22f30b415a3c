package core

import (
	"bytes"
	"encoding/json"
)

// EditLog is the in-memory form of document content: an ordered list of opaque
// edit operations that clients replay in order.
type EditLog []json.RawMessage

// DecodeEditLog turns stored content into an EditLog. A JSON array is read as
// the log itself; any other non-empty payload (a legacy single snapshot) becomes
// a one-entry log.
func DecodeEditLog(content []byte) EditLog {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return EditLog{}
	}
	if trimmed[0] == '[' {
		var log EditLog
		if err := json.Unmarshal(trimmed, &log); err == nil {
			return log
		}
	}
	if json.Valid(trimmed) {
		return EditLog{json.RawMessage(append([]byte(nil), trimmed...))}
	}
	quoted, _ := json.Marshal(string(trimmed))
	return EditLog{quoted}
}

// Encode returns the stored form of the log.
func (l EditLog) Encode() []byte {
	if len(l) == 0 {
		return []byte("[]")
	}
	data, err := json.Marshal(l)
	if err != nil {
		// every entry was validated on the way in
		return []byte("[]")
	}
	return data
}

// Clone copies the log so the result can be handed to another goroutine.
func (l EditLog) Clone() EditLog {
	out := make(EditLog, len(l))
	copy(out, l)
	return out
}
