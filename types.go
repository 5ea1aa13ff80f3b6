package barterchat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIResult is the envelope every REST endpoint responds with.
type APIResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals Data into v.
func (r *APIResult) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Chat Types
// ============================================================================

// MessageKind is the content type of a message.
type MessageKind string

const (
	MessageText  MessageKind = "TEXT"
	MessageImage MessageKind = "IMAGE"
)

func (k MessageKind) valid() bool {
	return k == MessageText || k == MessageImage
}

// Message is a chat message. Server-created messages carry a non-zero ID;
// optimistic local copies carry a LocalID and Pending until confirmed.
type Message struct {
	ID                int64       `json:"id"`
	LocalID           string      `json:"localId,omitempty"`
	SenderID          int64       `json:"senderId"`
	SenderDisplayName string      `json:"senderNickname,omitempty"`
	SenderAvatar      string      `json:"senderAvatar,omitempty"`
	Content           string      `json:"content"`
	Kind              MessageKind `json:"type"`
	IsRead            bool        `json:"isRead"`
	CreatedAt         time.Time   `json:"createdAt"`
	Pending           bool        `json:"pending,omitempty"`
}

// IsConfirmed reports whether the server has assigned the message an ID.
func (m Message) IsConfirmed() bool {
	return m.ID != 0
}

// UserBrief is the public profile of a chat peer.
type UserBrief struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Nickname string   `json:"nickname,omitempty"`
	Avatar   string   `json:"avatar,omitempty"`
	Rating   *float64 `json:"rating,omitempty"`
}

// DisplayName prefers the nickname over the username.
func (u UserBrief) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.Username
}

// Conversation is one row of the conversation list.
type Conversation struct {
	ID            int64     `json:"id"`
	OtherUser     UserBrief `json:"otherUser"`
	LastMessage   *Message  `json:"lastMessage,omitempty"`
	UnreadCount   int       `json:"unreadCount"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

// ConversationDetail is one page of a conversation's history.
type ConversationDetail struct {
	ID        int64     `json:"id"`
	OtherUser UserBrief `json:"otherUser"`
	Messages  []Message `json:"messages"`
}

// Page is a server-side page of results.
type Page[T any] struct {
	Content       []T   `json:"content"`
	TotalPages    int   `json:"totalPages"`
	TotalElements int64 `json:"totalElements"`
	Size          int   `json:"size"`
	Number        int   `json:"number"`
	First         bool  `json:"first"`
	Last          bool  `json:"last"`
	Empty         bool  `json:"empty"`
}

// SendMessageRequest is the request body of the send endpoint.
type SendMessageRequest struct {
	ReceiverID int64       `json:"receiverId"`
	Content    string      `json:"content"`
	Type       MessageKind `json:"type"`
}

// ============================================================================
// Wire decoding
// ============================================================================

// wireMessage mirrors the message object used by both the relay and the REST
// API. Pointer fields distinguish "absent" from zero values.
type wireMessage struct {
	ID             *int64  `json:"id"`
	SenderID       *int64  `json:"senderId"`
	SenderNickname *string `json:"senderNickname"`
	SenderAvatar   *string `json:"senderAvatar"`
	Content        *string `json:"content"`
	Type           *string `json:"type"`
	IsRead         *bool   `json:"isRead"`
	CreatedAt      *string `json:"createdAt"`
}

// toMessage validates required fields and converts to a Message. It never
// returns a partially populated message.
func (w *wireMessage) toMessage() (Message, error) {
	if w == nil {
		return Message{}, invalidFrame("missing message")
	}
	switch {
	case w.ID == nil:
		return Message{}, invalidFrame("message.id missing")
	case *w.ID <= 0:
		return Message{}, invalidFrame("message.id must be positive")
	case w.SenderID == nil:
		return Message{}, invalidFrame("message.senderId missing")
	case w.Content == nil:
		return Message{}, invalidFrame("message.content missing")
	case w.Type == nil:
		return Message{}, invalidFrame("message.type missing")
	}
	kind := MessageKind(strings.ToUpper(*w.Type))
	if !kind.valid() {
		return Message{}, invalidFrame(fmt.Sprintf("unknown message type %q", *w.Type))
	}
	msg := Message{
		ID:                *w.ID,
		SenderID:          *w.SenderID,
		SenderDisplayName: derefString(w.SenderNickname),
		SenderAvatar:      derefString(w.SenderAvatar),
		Content:           *w.Content,
		Kind:              kind,
		IsRead:            w.IsRead != nil && *w.IsRead,
	}
	if w.CreatedAt != nil && *w.CreatedAt != "" {
		t, err := parseTimestamp(*w.CreatedAt)
		if err != nil {
			return Message{}, &Error{Kind: ErrorPayload, Message: "message.createdAt invalid", Err: err}
		}
		msg.CreatedAt = t
	}
	return msg, nil
}

type wireConversationDetail struct {
	ID        int64         `json:"id"`
	OtherUser UserBrief     `json:"otherUser"`
	Messages  []wireMessage `json:"messages"`
}

func (w *wireConversationDetail) toDetail() (*ConversationDetail, error) {
	detail := &ConversationDetail{
		ID:        w.ID,
		OtherUser: w.OtherUser,
		Messages:  make([]Message, 0, len(w.Messages)),
	}
	for i := range w.Messages {
		msg, err := w.Messages[i].toMessage()
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		detail.Messages = append(detail.Messages, msg)
	}
	return detail, nil
}

type wireConversation struct {
	ID            int64        `json:"id"`
	OtherUser     UserBrief    `json:"otherUser"`
	LastMessage   *wireMessage `json:"lastMessage"`
	UnreadCount   *int         `json:"unreadCount"`
	LastMessageAt *string      `json:"lastMessageAt"`
}

func (w *wireConversation) toConversation() (Conversation, error) {
	conv := Conversation{ID: w.ID, OtherUser: w.OtherUser}
	if w.UnreadCount != nil {
		conv.UnreadCount = *w.UnreadCount
	}
	if w.LastMessage != nil {
		msg, err := w.LastMessage.toMessage()
		if err != nil {
			return Conversation{}, err
		}
		conv.LastMessage = &msg
	}
	if w.LastMessageAt != nil && *w.LastMessageAt != "" {
		t, err := parseTimestamp(*w.LastMessageAt)
		if err != nil {
			return Conversation{}, err
		}
		conv.LastMessageAt = t
	}
	return conv, nil
}

// timestampLayouts covers RFC 3339 and the relay's zone-less ISO local
// date-time, which is interpreted in the local time zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func invalidFrame(message string) *Error {
	return &Error{Kind: ErrorPayload, Message: message}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
