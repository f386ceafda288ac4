package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestChatMessageKeepsExtraFields(t *testing.T) {
	in := []byte(`{"text":"hello","id":"abc-1","sender":"spoofed","color":"red"}`)

	var msg ChatMessage
	if err := json.Unmarshal(in, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Text != "hello" {
		t.Fatalf("text = %q, want hello", msg.Text)
	}
	if _, ok := msg.Extra["sender"]; ok {
		t.Fatalf("sender should not be kept as an extra field")
	}

	msg.Sender = "conn-1"
	msg.SenderName = "Ada"
	msg.Timestamp = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	out, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(out, &fields); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	want := map[string]any{
		"text":       "hello",
		"id":         "abc-1",
		"sender":     "conn-1",
		"senderName": "Ada",
		"color":      "red",
		"timestamp":  "2026-01-02T03:04:05Z",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("%s = %v, want %v", k, fields[k], v)
		}
	}
}

func TestChatMessageIgnoresStampedFieldTypes(t *testing.T) {
	cases := map[string]string{
		"epoch millis":   `{"text":"hi","timestamp":1700000000000}`,
		"numeric sender": `{"text":"hi","sender":123}`,
		"object name":    `{"text":"hi","senderName":{"first":"Ada"}}`,
		"null timestamp": `{"text":"hi","timestamp":null}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			var msg ChatMessage
			if err := json.Unmarshal([]byte(in), &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if msg.Text != "hi" {
				t.Fatalf("text = %q, want hi", msg.Text)
			}
			if len(msg.Extra) != 0 {
				t.Fatalf("extra = %v, want none", msg.Extra)
			}
		})
	}

	var msg ChatMessage
	if err := json.Unmarshal([]byte(`{"text":42}`), &msg); err == nil {
		t.Fatal("non-string text should be rejected")
	}
}

func TestNewKeepsRawPayload(t *testing.T) {
	raw := json.RawMessage(`{"x":1}`)
	env, err := New(TypeDrawingUpdate, "ROOM", raw)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if string(env.Payload) != `{"x":1}` {
		t.Fatalf("payload = %s", env.Payload)
	}

	env, err = New(TypeLeaveRoom, "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if env.Payload != nil {
		t.Fatalf("nil payload should stay empty, got %s", env.Payload)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	env := Envelope{Type: TypeHandRaise}
	var p HandRaisePayload
	if err := env.Decode(&p); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
