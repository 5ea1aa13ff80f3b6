package barterchat

import "time"

// Event is anything published on the live event stream.
type Event interface {
	EventType() string
}

// ChatEvent is a decoded relay event. Every ChatEvent belongs to a
// conversation; consumers filter on ConversationID.
type ChatEvent interface {
	Event
	ConversationKey() int64
}

// Event type names as reported by EventType.
const (
	EventNewMessage        = "message.new"
	EventTypingStarted     = "typing.started"
	EventTypingStopped     = "typing.stopped"
	EventStateChange       = "connection.state"
	EventAuthFailed        = "connection.auth_failed"
	EventReconnectSchedule = "connection.reconnect_scheduled"
)

// NewMessageEvent is pushed when a message arrives in a conversation.
type NewMessageEvent struct {
	ConversationID int64
	Message        Message
}

func (NewMessageEvent) EventType() string        { return EventNewMessage }
func (e NewMessageEvent) ConversationKey() int64 { return e.ConversationID }

// TypingStartedEvent is pushed when a peer starts typing.
type TypingStartedEvent struct {
	ConversationID int64
	UserID         int64
	DisplayName    string
}

func (TypingStartedEvent) EventType() string        { return EventTypingStarted }
func (e TypingStartedEvent) ConversationKey() int64 { return e.ConversationID }

// TypingStoppedEvent is pushed when a peer stops typing.
type TypingStoppedEvent struct {
	ConversationID int64
	UserID         int64
}

func (TypingStoppedEvent) EventType() string        { return EventTypingStopped }
func (e TypingStoppedEvent) ConversationKey() int64 { return e.ConversationID }

// StateChangeEvent is published on every connection state transition.
type StateChangeEvent struct {
	From ConnectionState
	To   ConnectionState
	Err  error // cause of a transition to StateFailed
}

func (StateChangeEvent) EventType() string { return EventStateChange }

// AuthReason tells why authentication failed.
type AuthReason string

const (
	AuthMissing  AuthReason = "missing"
	AuthExpired  AuthReason = "expired"
	AuthRejected AuthReason = "rejected"
)

// AuthFailedEvent asks the application to re-authenticate the user.
type AuthFailedEvent struct {
	Reason AuthReason
	Err    error
}

func (AuthFailedEvent) EventType() string { return EventAuthFailed }

// ReconnectScheduledEvent is published when the reconnect policy schedules
// another Connect.
type ReconnectScheduledEvent struct {
	Attempt int
	Delay   time.Duration
}

func (ReconnectScheduledEvent) EventType() string { return EventReconnectSchedule }
