package barterchat

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// ============================================================================
// DecodeEvent
// ============================================================================

func TestDecodeEvent(t *testing.T) {
	t.Run("new message", func(t *testing.T) {
		frame := `{"type":"NEW_MESSAGE","conversationId":7,"message":{"id":101,"senderId":2,"content":"hi","type":"TEXT"}}`
		ev := DecodeEvent([]byte(frame))
		msg, ok := ev.(NewMessageEvent)
		if !ok {
			t.Fatalf("expected NewMessageEvent, got %T", ev)
		}
		if msg.ConversationID != 7 {
			t.Errorf("expected conversation 7, got %d", msg.ConversationID)
		}
		if msg.Message.ID != 101 || msg.Message.SenderID != 2 || msg.Message.Content != "hi" {
			t.Errorf("unexpected message: %+v", msg.Message)
		}
		if msg.Message.Kind != MessageText {
			t.Errorf("expected TEXT, got %s", msg.Message.Kind)
		}
		if !msg.Message.CreatedAt.IsZero() {
			t.Errorf("expected zero CreatedAt, got %v", msg.Message.CreatedAt)
		}
		if msg.ConversationKey() != 7 || msg.EventType() != EventNewMessage {
			t.Errorf("unexpected key/type: %d %s", msg.ConversationKey(), msg.EventType())
		}
	})

	t.Run("new message with all fields", func(t *testing.T) {
		frame := `{"type":"NEW_MESSAGE","conversationId":3,"message":{"id":5,"senderId":9,` +
			`"senderNickname":"Ann","senderAvatar":"a.png","content":"https://img/x.png","type":"image",` +
			`"isRead":true,"createdAt":"2024-05-01T10:20:30.123"}}`
		ev, ok := DecodeEvent([]byte(frame)).(NewMessageEvent)
		if !ok {
			t.Fatal("expected NewMessageEvent")
		}
		m := ev.Message
		if m.Kind != MessageImage {
			t.Errorf("expected IMAGE, got %s", m.Kind)
		}
		if m.SenderDisplayName != "Ann" || m.SenderAvatar != "a.png" || !m.IsRead {
			t.Errorf("unexpected message: %+v", m)
		}
		want := time.Date(2024, 5, 1, 10, 20, 30, 123000000, time.Local)
		if !m.CreatedAt.Equal(want) {
			t.Errorf("expected %v, got %v", want, m.CreatedAt)
		}
	})

	t.Run("rfc3339 timestamp", func(t *testing.T) {
		frame := `{"type":"NEW_MESSAGE","conversationId":3,"message":{"id":5,"senderId":9,"content":"x","type":"TEXT","createdAt":"2024-05-01T10:20:30Z"}}`
		ev, ok := DecodeEvent([]byte(frame)).(NewMessageEvent)
		if !ok {
			t.Fatal("expected NewMessageEvent")
		}
		want := time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC)
		if !ev.Message.CreatedAt.Equal(want) {
			t.Errorf("expected %v, got %v", want, ev.Message.CreatedAt)
		}
	})

	t.Run("typing", func(t *testing.T) {
		frame := `{"type":"TYPING","conversationId":7,"typing":{"userId":2,"nickname":"Bob"}}`
		ev, ok := DecodeEvent([]byte(frame)).(TypingStartedEvent)
		if !ok {
			t.Fatal("expected TypingStartedEvent")
		}
		if ev.ConversationID != 7 || ev.UserID != 2 || ev.DisplayName != "Bob" {
			t.Errorf("unexpected event: %+v", ev)
		}
	})

	t.Run("typing without nickname", func(t *testing.T) {
		frame := `{"type":"TYPING","conversationId":7,"typing":{"userId":2}}`
		ev, ok := DecodeEvent([]byte(frame)).(TypingStartedEvent)
		if !ok {
			t.Fatal("expected TypingStartedEvent")
		}
		if ev.DisplayName != "" {
			t.Errorf("expected empty display name, got %q", ev.DisplayName)
		}
	})

	t.Run("stop typing", func(t *testing.T) {
		frame := `{"type":"STOP_TYPING","conversationId":7,"typing":{"userId":2}}`
		ev, ok := DecodeEvent([]byte(frame)).(TypingStoppedEvent)
		if !ok {
			t.Fatal("expected TypingStoppedEvent")
		}
		if ev.ConversationID != 7 || ev.UserID != 2 {
			t.Errorf("unexpected event: %+v", ev)
		}
	})

	t.Run("unknown fields ignored", func(t *testing.T) {
		frame := `{"type":"STOP_TYPING","conversationId":7,"extra":{"a":1},"typing":{"userId":2,"x":true}}`
		if DecodeEvent([]byte(frame)) == nil {
			t.Fatal("expected event")
		}
	})
}

func TestDecodeEventRejects(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"empty", ``},
		{"not json", `hello`},
		{"json array", `[1,2,3]`},
		{"json null", `null`},
		{"truncated", `{"type":"NEW_MESSAGE","conversationId":7`},
		{"unknown type", `{"type":"UNKNOWN_EVENT","conversationId":7}`},
		{"missing type", `{"conversationId":7,"typing":{"userId":2}}`},
		{"lowercase type", `{"type":"typing","conversationId":7,"typing":{"userId":2}}`},
		{"missing conversation", `{"type":"TYPING","typing":{"userId":2}}`},
		{"conversation as string", `{"type":"TYPING","conversationId":"7","typing":{"userId":2}}`},
		{"missing message", `{"type":"NEW_MESSAGE","conversationId":7}`},
		{"message null", `{"type":"NEW_MESSAGE","conversationId":7,"message":null}`},
		{"message missing id", `{"type":"NEW_MESSAGE","conversationId":7,"message":{"senderId":2,"content":"hi","type":"TEXT"}}`},
		{"message zero id", `{"type":"NEW_MESSAGE","conversationId":7,"message":{"id":0,"senderId":2,"content":"hi","type":"TEXT"}}`},
		{"message negative id", `{"type":"NEW_MESSAGE","conversationId":7,"message":{"id":-4,"senderId":2,"content":"hi","type":"TEXT"}}`},
		{"message missing sender", `{"type":"NEW_MESSAGE","conversationId":7,"message":{"id":1,"content":"hi","type":"TEXT"}}`},
		{"message missing content", `{"type":"NEW_MESSAGE","conversationId":7,"message":{"id":1,"senderId":2,"type":"TEXT"}}`},
		{"message missing kind", `{"type":"NEW_MESSAGE","conversationId":7,"message":{"id":1,"senderId":2,"content":"hi"}}`},
		{"message unknown kind", `{"type":"NEW_MESSAGE","conversationId":7,"message":{"id":1,"senderId":2,"content":"hi","type":"VIDEO"}}`},
		{"message bad timestamp", `{"type":"NEW_MESSAGE","conversationId":7,"message":{"id":1,"senderId":2,"content":"hi","type":"TEXT","createdAt":"yesterday"}}`},
		{"typing missing object", `{"type":"TYPING","conversationId":7}`},
		{"typing missing user", `{"type":"TYPING","conversationId":7,"typing":{"nickname":"Bob"}}`},
		{"stop typing missing user", `{"type":"STOP_TYPING","conversationId":7,"typing":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ev := DecodeEvent([]byte(tt.frame)); ev != nil {
				t.Fatalf("expected nil, got %#v", ev)
			}
			_, err := decodeEvent([]byte(tt.frame))
			if !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("expected payload error, got %v", err)
			}
		})
	}
}

func TestDecodeEventNeverPanics(t *testing.T) {
	frames := [][]byte{
		nil,
		{0xff, 0xfe, 0x00},
		[]byte(`{"type":"NEW_MESSAGE","conversationId":1e400}`),
		[]byte(`{"type":"NEW_MESSAGE","conversationId":7,"message":"text"}`),
		[]byte(`{"type":"TYPING","conversationId":7,"typing":[]}`),
		[]byte(`{"type":12,"conversationId":7}`),
	}
	for _, f := range frames {
		if ev := DecodeEvent(f); ev != nil {
			t.Errorf("expected nil for %q, got %#v", f, ev)
		}
	}
}

// ============================================================================
// EncodeSignal
// ============================================================================

func TestEncodeSignal(t *testing.T) {
	t.Run("typing", func(t *testing.T) {
		data, err := EncodeSignal(TypingSignal{ConversationID: 7, TargetUserID: 2, Nickname: "Ann"})
		if err != nil {
			t.Fatal(err)
		}
		var got map[string]any
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatal(err)
		}
		if got["type"] != "TYPING" || got["nickname"] != "Ann" {
			t.Errorf("unexpected frame: %s", data)
		}
		if got["conversationId"] != float64(7) || got["targetUserId"] != float64(2) {
			t.Errorf("unexpected ids: %s", data)
		}
	})

	t.Run("typing with empty nickname keeps the field", func(t *testing.T) {
		data, err := EncodeSignal(TypingSignal{ConversationID: 7, TargetUserID: 2})
		if err != nil {
			t.Fatal(err)
		}
		var got map[string]any
		json.Unmarshal(data, &got)
		if v, ok := got["nickname"]; !ok || v != "" {
			t.Errorf("expected empty nickname field, got %s", data)
		}
	})

	t.Run("stop typing omits nickname", func(t *testing.T) {
		data, err := EncodeSignal(TypingSignal{Stop: true, ConversationID: 7, TargetUserID: 2, Nickname: "Ann"})
		if err != nil {
			t.Fatal(err)
		}
		var got map[string]any
		json.Unmarshal(data, &got)
		if got["type"] != "STOP_TYPING" {
			t.Errorf("unexpected type: %s", data)
		}
		if _, ok := got["nickname"]; ok {
			t.Errorf("stop frame must not carry nickname: %s", data)
		}
	})
}
