package barterchat

import (
	"encoding/json"
	"fmt"
)

// Frame type tags used on the wire.
const (
	FrameNewMessage = "NEW_MESSAGE"
	FrameTyping     = "TYPING"
	FrameStopTyping = "STOP_TYPING"
)

// inboundFrame is the relay -> client envelope.
type inboundFrame struct {
	Type           string       `json:"type"`
	ConversationID *int64       `json:"conversationId"`
	Message        *wireMessage `json:"message"`
	Typing         *wireTyping  `json:"typing"`
}

type wireTyping struct {
	UserID   *int64  `json:"userId"`
	Nickname *string `json:"nickname"`
}

// DecodeEvent parses one relay frame. It returns nil for anything it cannot
// turn into a complete ChatEvent: invalid JSON, unknown type tags, or missing
// required fields. It never panics.
func DecodeEvent(frame []byte) ChatEvent {
	ev, err := decodeEvent(frame)
	if err != nil {
		return nil
	}
	return ev
}

// decodeEvent is DecodeEvent with the reason for rejection, used for logging.
func decodeEvent(frame []byte) (ChatEvent, error) {
	var in inboundFrame
	if err := json.Unmarshal(frame, &in); err != nil {
		return nil, &Error{Kind: ErrorPayload, Message: "invalid json", Err: err}
	}
	if in.Type == "" {
		return nil, invalidFrame("type missing")
	}

	switch in.Type {
	case FrameNewMessage, FrameTyping, FrameStopTyping:
	default:
		return nil, invalidFrame(fmt.Sprintf("unknown type %q", in.Type))
	}
	if in.ConversationID == nil {
		return nil, invalidFrame("conversationId missing")
	}
	convID := *in.ConversationID

	switch in.Type {
	case FrameNewMessage:
		msg, err := in.Message.toMessage()
		if err != nil {
			return nil, err
		}
		return NewMessageEvent{ConversationID: convID, Message: msg}, nil

	case FrameTyping:
		if in.Typing == nil || in.Typing.UserID == nil {
			return nil, invalidFrame("typing.userId missing")
		}
		return TypingStartedEvent{
			ConversationID: convID,
			UserID:         *in.Typing.UserID,
			DisplayName:    derefString(in.Typing.Nickname),
		}, nil

	default: // FrameStopTyping
		if in.Typing == nil || in.Typing.UserID == nil {
			return nil, invalidFrame("typing.userId missing")
		}
		return TypingStoppedEvent{ConversationID: convID, UserID: *in.Typing.UserID}, nil
	}
}

// TypingSignal is an outbound typing indicator addressed to one peer.
type TypingSignal struct {
	Stop           bool
	ConversationID int64
	TargetUserID   int64
	Nickname       string // ignored for stop signals
}

type typingFrame struct {
	Type           string `json:"type"`
	TargetUserID   int64  `json:"targetUserId"`
	ConversationID int64  `json:"conversationId"`
	Nickname       string `json:"nickname"`
}

type stopTypingFrame struct {
	Type           string `json:"type"`
	TargetUserID   int64  `json:"targetUserId"`
	ConversationID int64  `json:"conversationId"`
}

// EncodeSignal serializes an outbound typing signal.
func EncodeSignal(sig TypingSignal) ([]byte, error) {
	if sig.Stop {
		return json.Marshal(stopTypingFrame{
			Type:           FrameStopTyping,
			TargetUserID:   sig.TargetUserID,
			ConversationID: sig.ConversationID,
		})
	}
	return json.Marshal(typingFrame{
		Type:           FrameTyping,
		TargetUserID:   sig.TargetUserID,
		ConversationID: sig.ConversationID,
		Nickname:       sig.Nickname,
	})
}
