package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/tailored-agentic-units/empath/core/protocol"
)

func TestNewMessage(t *testing.T) {
	msg := protocol.NewMessage(protocol.RoleUser, "Hello")

	if msg.Role != protocol.RoleUser {
		t.Errorf("got role %q, want %q", msg.Role, protocol.RoleUser)
	}
	if msg.Content != "Hello" {
		t.Errorf("got content %q, want %q", msg.Content, "Hello")
	}
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	msg := protocol.NewMessage(protocol.RoleAssistant, "I'm here to listen.")

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got protocol.Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if got != msg {
		t.Errorf("round trip got %+v, want %+v", got, msg)
	}
}

func TestWindow(t *testing.T) {
	history := make([]protocol.Message, 0, 14)
	for i := 0; i < 14; i++ {
		role := protocol.RoleUser
		if i%2 == 1 {
			role = protocol.RoleAssistant
		}
		history = append(history, protocol.NewMessage(role, string(rune('a'+i))))
	}

	tests := []struct {
		name      string
		n         int
		wantLen   int
		wantFirst string
	}{
		{name: "shorter than window", n: 20, wantLen: 14, wantFirst: "a"},
		{name: "exact window", n: 14, wantLen: 14, wantFirst: "a"},
		{name: "older entries dropped", n: 10, wantLen: 10, wantFirst: "e"},
		{name: "zero returns all", n: 0, wantLen: 14, wantFirst: "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := protocol.Window(history, tt.n)
			if len(got) != tt.wantLen {
				t.Fatalf("Window() returned %d messages, want %d", len(got), tt.wantLen)
			}
			if got[0].Content != tt.wantFirst {
				t.Errorf("Window()[0].Content = %q, want %q", got[0].Content, tt.wantFirst)
			}
			if got[len(got)-1].Content != history[len(history)-1].Content {
				t.Errorf("Window() must preserve the most recent entry")
			}
		})
	}
}

func TestWindow_Empty(t *testing.T) {
	if got := protocol.Window(nil, 10); len(got) != 0 {
		t.Errorf("Window(nil) returned %d messages, want 0", len(got))
	}
}
