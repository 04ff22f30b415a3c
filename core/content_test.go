package core

import (
	"encoding/json"
	"testing"
)

func TestDecodeEditLog_Empty(t *testing.T) {
	for _, in := range []string{"", "  ", "[]"} {
		if log := DecodeEditLog([]byte(in)); len(log) != 0 {
			t.Errorf("DecodeEditLog(%q) returned %d entries, want 0", in, len(log))
		}
	}
}

func TestDecodeEditLog_Array(t *testing.T) {
	log := DecodeEditLog([]byte(`[{"ops":[{"insert":"a"}]},{"ops":[{"retain":1},{"insert":"b"}]}]`))
	if len(log) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(log))
	}
	if string(log[0]) != `{"ops":[{"insert":"a"}]}` {
		t.Errorf("Entry mismatch: got %s", log[0])
	}
}

func TestDecodeEditLog_LegacySnapshot(t *testing.T) {
	log := DecodeEditLog([]byte(`{"ops":[{"insert":"hello\n"}]}`))
	if len(log) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(log))
	}

	log = DecodeEditLog([]byte("plain text"))
	if len(log) != 1 {
		t.Fatalf("Expected 1 entry for raw text, got %d", len(log))
	}
	var s string
	if err := json.Unmarshal(log[0], &s); err != nil || s != "plain text" {
		t.Errorf("Raw text not preserved: %s (%v)", log[0], err)
	}
}

func TestEditLog_EncodeRoundTrip(t *testing.T) {
	log := EditLog{json.RawMessage(`{"insert":"x"}`), json.RawMessage(`{"delete":1}`)}

	decoded := DecodeEditLog(log.Encode())
	if len(decoded) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(decoded))
	}
	if string(decoded[1]) != `{"delete":1}` {
		t.Errorf("Order not preserved: %s", decoded[1])
	}

	if string(EditLog(nil).Encode()) != "[]" {
		t.Errorf("Empty log must encode as []")
	}
}
