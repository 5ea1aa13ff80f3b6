package barterchat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Collaborators
// ============================================================================

// HistorySource pulls pages of conversation history. *Client implements it.
type HistorySource interface {
	GetConversationDetail(ctx context.Context, conversationID int64, page, size int) (*ConversationDetail, error)
}

// MessageSender posts a message. *Client implements it.
type MessageSender interface {
	SendMessage(ctx context.Context, receiverID int64, content string) (*Message, error)
}

// OptimisticMatcher reports whether confirmed is the server copy of the
// locally inserted pending message.
type OptimisticMatcher func(pending, confirmed Message) bool

// MatchByContent matches a pending copy without a server ID to a confirmed
// message from the same sender with the same content, created within window
// of each other.
func MatchByContent(window time.Duration) OptimisticMatcher {
	return func(pending, confirmed Message) bool {
		if pending.IsConfirmed() || !pending.Pending {
			return false
		}
		if pending.SenderID != confirmed.SenderID || pending.Content != confirmed.Content {
			return false
		}
		d := confirmed.CreatedAt.Sub(pending.CreatedAt)
		if d < 0 {
			d = -d
		}
		return d <= window
	}
}

// ============================================================================
// Configuration
// ============================================================================

// ReconcilerConfig configures a Reconciler.
type ReconcilerConfig struct {
	SelfUserID      int64
	SelfDisplayName string
	MatchWindow     time.Duration // used when Matcher is nil
	TypingTTL       time.Duration
	Matcher         OptimisticMatcher
	Now             func() time.Time
	Logger          Logger
}

func (c *ReconcilerConfig) defaults() {
	if c.MatchWindow == 0 {
		c.MatchWindow = 2 * time.Minute
	}
	if c.TypingTTL == 0 {
		c.TypingTTL = DefaultTypingTTL
	}
	if c.Matcher == nil {
		c.Matcher = MatchByContent(c.MatchWindow)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	c.Logger = orNoop(c.Logger)
}

// ============================================================================
// Conversation Buffer
// ============================================================================

type conversationBuffer struct {
	messages  []Message // non-decreasing by CreatedAt, unique by ID
	loaded    bool
	loading   int // LoadPage calls in flight; live pushes are kept meanwhile
	otherUser UserBrief
}

// open reports whether live messages should be merged.
func (b *conversationBuffer) open() bool {
	return b.loaded || b.loading > 0
}

// upsert inserts msg at its timestamp position. A confirmed message replaces
// the entry with the same ID or a pending copy the matcher accepts, so the
// same message is never stored twice. It reports whether a pending copy was
// replaced.
func (b *conversationBuffer) upsert(msg Message, match OptimisticMatcher) bool {
	replacedPending := false
	if msg.IsConfirmed() {
		for i := range b.messages {
			if b.messages[i].ID == msg.ID {
				b.removeAt(i)
				break
			}
		}
		for i := range b.messages {
			if match(b.messages[i], msg) {
				b.removeAt(i)
				replacedPending = true
				break
			}
		}
	}
	i := sort.Search(len(b.messages), func(i int) bool {
		return b.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	b.messages = append(b.messages, Message{})
	copy(b.messages[i+1:], b.messages[i:])
	b.messages[i] = msg
	return replacedPending
}

func (b *conversationBuffer) removeAt(i int) {
	b.messages = append(b.messages[:i], b.messages[i+1:]...)
}

func (b *conversationBuffer) removeLocal(localID string) {
	for i := range b.messages {
		if b.messages[i].LocalID == localID && !b.messages[i].IsConfirmed() {
			b.removeAt(i)
			return
		}
	}
}

// ============================================================================
// Reconciler
// ============================================================================

// Reconciler merges paged history with live events into one ordered,
// duplicate-free buffer per open conversation.
type Reconciler struct {
	history HistorySource
	sender  MessageSender
	config  *ReconcilerConfig
	logger  Logger
	typing  *TypingRoster

	mu      sync.Mutex
	buffers map[int64]*conversationBuffer
}

// NewReconciler creates a reconciler. sender may be nil if Send is unused.
func NewReconciler(history HistorySource, sender MessageSender, config *ReconcilerConfig) *Reconciler {
	if config == nil {
		config = &ReconcilerConfig{}
	}
	config.defaults()
	return &Reconciler{
		history: history,
		sender:  sender,
		config:  config,
		logger:  config.Logger,
		typing:  NewTypingRoster(config.TypingTTL, config.Now),
		buffers: make(map[int64]*conversationBuffer),
	}
}

// LoadPage fetches one history page, merges it into the conversation buffer
// and returns the page ordered by creation time. Live messages that arrive
// while the page is in flight are kept and later overwritten by the server
// copy. On failure only those live messages remain; nothing from the page
// is merged.
func (r *Reconciler) LoadPage(ctx context.Context, conversationID int64, page, size int) ([]Message, error) {
	r.mu.Lock()
	buf := r.bufferLocked(conversationID)
	buf.loading++
	r.mu.Unlock()

	start := time.Now()
	detail, err := r.history.GetConversationDetail(ctx, conversationID, page, size)
	HistoryLoadSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		r.mu.Lock()
		buf.loading--
		if !buf.open() && len(buf.messages) == 0 && r.buffers[conversationID] == buf {
			delete(r.buffers, conversationID)
		}
		r.mu.Unlock()

		HistoryPagesTotal.WithLabelValues("error").Inc()
		var e *Error
		if !errors.As(err, &e) {
			err = newError(ErrorRequest, "history", "failed to load page", err)
		}
		r.logger.Warn("history load failed", map[string]any{
			"conversation_id": conversationID,
			"page":            page,
			"error":           err.Error(),
		})
		return nil, err
	}
	HistoryPagesTotal.WithLabelValues("ok").Inc()

	msgs := append([]Message(nil), detail.Messages...)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	r.mu.Lock()
	buf.loading--
	// An Evict while the page was in flight discards the result.
	if r.buffers[conversationID] == buf {
		for _, m := range msgs {
			if buf.upsert(m, r.config.Matcher) {
				OptimisticMatchesTotal.Inc()
			}
		}
		buf.loaded = true
		buf.otherUser = detail.OtherUser
	}
	r.mu.Unlock()

	r.logger.Debug("history page merged", map[string]any{
		"conversation_id": conversationID,
		"page":            page,
		"count":           len(msgs),
	})
	return msgs, nil
}

// IngestLive applies one live event. New messages are merged only into
// conversations that have loaded history or have a page in flight; typing
// events update the roster.
// It reports whether the event changed anything.
func (r *Reconciler) IngestLive(ev ChatEvent) bool {
	switch e := ev.(type) {
	case NewMessageEvent:
		msg := e.Message
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = r.config.Now()
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		buf, ok := r.buffers[e.ConversationID]
		if !ok || !buf.open() {
			return false
		}
		if buf.upsert(msg, r.config.Matcher) {
			OptimisticMatchesTotal.Inc()
		}
		return true
	case TypingStartedEvent, TypingStoppedEvent:
		return r.typing.Apply(ev)
	}
	return false
}

// Send posts content to receiverID. A pending local copy is visible in
// Messages until the server answers; it is then replaced by the confirmed
// message, or removed if the send failed.
func (r *Reconciler) Send(ctx context.Context, conversationID, receiverID int64, content string) (*Message, error) {
	if r.sender == nil {
		return nil, newError(ErrorConfig, "send", "no message sender configured", nil)
	}
	local := Message{
		LocalID:           uuid.NewString(),
		SenderID:          r.config.SelfUserID,
		SenderDisplayName: r.config.SelfDisplayName,
		Content:           content,
		Kind:              MessageText,
		CreatedAt:         r.config.Now(),
		Pending:           true,
	}
	r.mu.Lock()
	r.bufferLocked(conversationID).upsert(local, r.config.Matcher)
	r.mu.Unlock()

	confirmed, err := r.sender.SendMessage(ctx, receiverID, content)

	r.mu.Lock()
	defer r.mu.Unlock()
	buf := r.bufferLocked(conversationID)
	buf.removeLocal(local.LocalID)
	if err != nil {
		r.logger.Warn("send failed", map[string]any{
			"conversation_id": conversationID,
			"local_id":        local.LocalID,
			"error":           err.Error(),
		})
		return nil, err
	}
	msg := *confirmed
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = local.CreatedAt
	}
	buf.upsert(msg, r.config.Matcher)
	return &msg, nil
}

// Messages returns a snapshot of the conversation buffer.
func (r *Reconciler) Messages(conversationID int64) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[conversationID]
	if !ok {
		return nil
	}
	return append([]Message(nil), buf.messages...)
}

// OtherUser returns the peer of a loaded conversation.
func (r *Reconciler) OtherUser(conversationID int64) (UserBrief, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[conversationID]
	if !ok || !buf.loaded {
		return UserBrief{}, false
	}
	return buf.otherUser, true
}

// Loaded reports whether history has been loaded for the conversation.
func (r *Reconciler) Loaded(conversationID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[conversationID]
	return ok && buf.loaded
}

// Evict drops the buffer and typing roster of a conversation, typically when
// its view closes.
func (r *Reconciler) Evict(conversationID int64) {
	r.mu.Lock()
	delete(r.buffers, conversationID)
	r.mu.Unlock()
	r.typing.Forget(conversationID)
}

// Typing returns who is currently typing in a conversation.
func (r *Reconciler) Typing(conversationID int64) []Typist {
	return r.typing.Typing(conversationID)
}

func (r *Reconciler) bufferLocked(conversationID int64) *conversationBuffer {
	buf, ok := r.buffers[conversationID]
	if !ok {
		buf = &conversationBuffer{}
		r.buffers[conversationID] = buf
	}
	return buf
}
