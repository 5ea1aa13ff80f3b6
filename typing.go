package barterchat

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ============================================================================
// Outbound
// ============================================================================

// TypingEmitter sends typing indicators for the local user. Signals are
// best-effort: nothing is queued, retried or reported to the caller.
type TypingEmitter struct {
	rc       *RealtimeClient
	nickname string
	logger   Logger
}

// NewTypingEmitter creates an emitter that announces the local user as
// nickname.
func NewTypingEmitter(rc *RealtimeClient, nickname string) *TypingEmitter {
	return &TypingEmitter{rc: rc, nickname: nickname, logger: rc.logger}
}

// NotifyTyping tells targetUserID that the local user is typing in
// conversationID. It is a no-op unless the connection is up.
func (e *TypingEmitter) NotifyTyping(ctx context.Context, conversationID, targetUserID int64) {
	e.emit(ctx, TypingSignal{
		ConversationID: conversationID,
		TargetUserID:   targetUserID,
		Nickname:       e.nickname,
	})
}

// NotifyStopTyping tells targetUserID that the local user stopped typing.
func (e *TypingEmitter) NotifyStopTyping(ctx context.Context, conversationID, targetUserID int64) {
	e.emit(ctx, TypingSignal{
		Stop:           true,
		ConversationID: conversationID,
		TargetUserID:   targetUserID,
	})
}

func (e *TypingEmitter) emit(ctx context.Context, sig TypingSignal) {
	frameType := FrameTyping
	if sig.Stop {
		frameType = FrameStopTyping
	}
	sent, err := e.rc.sendSignal(ctx, sig)
	switch {
	case err != nil:
		SignalsTotal.WithLabelValues(frameType, "failed").Inc()
		e.logger.Debug("typing signal failed", map[string]any{
			"type":            frameType,
			"conversation_id": sig.ConversationID,
			"error":           err.Error(),
		})
	case !sent:
		SignalsTotal.WithLabelValues(frameType, "skipped").Inc()
	default:
		SignalsTotal.WithLabelValues(frameType, "sent").Inc()
	}
}

// ============================================================================
// Inbound
// ============================================================================

// DefaultTypingTTL is how long a peer stays "typing" without a refresh.
const DefaultTypingTTL = 10 * time.Second

// Typist is a peer currently typing in a conversation.
type Typist struct {
	UserID      int64
	DisplayName string
	ExpiresAt   time.Time
}

// TypingRoster tracks who is typing per conversation. Entries expire after
// the TTL so a lost STOP_TYPING frame cannot leave a peer typing forever.
type TypingRoster struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	rosters map[int64]map[int64]Typist
}

// NewTypingRoster creates a roster. Zero ttl uses DefaultTypingTTL; nil now
// uses time.Now.
func NewTypingRoster(ttl time.Duration, now func() time.Time) *TypingRoster {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	if now == nil {
		now = time.Now
	}
	return &TypingRoster{ttl: ttl, now: now, rosters: make(map[int64]map[int64]Typist)}
}

// Apply updates the roster from a typing event. It reports false for events
// it does not handle.
func (r *TypingRoster) Apply(ev ChatEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := ev.(type) {
	case TypingStartedEvent:
		roster := r.rosters[e.ConversationID]
		if roster == nil {
			roster = make(map[int64]Typist)
			r.rosters[e.ConversationID] = roster
		}
		roster[e.UserID] = Typist{
			UserID:      e.UserID,
			DisplayName: e.DisplayName,
			ExpiresAt:   r.now().Add(r.ttl),
		}
		return true
	case TypingStoppedEvent:
		if roster := r.rosters[e.ConversationID]; roster != nil {
			delete(roster, e.UserID)
			if len(roster) == 0 {
				delete(r.rosters, e.ConversationID)
			}
		}
		return true
	}
	return false
}

// Typing returns the live typists of a conversation ordered by user ID.
func (r *TypingRoster) Typing(conversationID int64) []Typist {
	r.mu.Lock()
	defer r.mu.Unlock()

	roster := r.rosters[conversationID]
	if len(roster) == 0 {
		return nil
	}
	now := r.now()
	out := make([]Typist, 0, len(roster))
	for id, t := range roster {
		if !now.Before(t.ExpiresAt) {
			delete(roster, id)
			continue
		}
		out = append(out, t)
	}
	if len(roster) == 0 {
		delete(r.rosters, conversationID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Forget drops the roster of one conversation.
func (r *TypingRoster) Forget(conversationID int64) {
	r.mu.Lock()
	delete(r.rosters, conversationID)
	r.mu.Unlock()
}

// Sweep removes expired entries from every conversation.
func (r *TypingRoster) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for convID, roster := range r.rosters {
		for id, t := range roster {
			if !now.Before(t.ExpiresAt) {
				delete(roster, id)
			}
		}
		if len(roster) == 0 {
			delete(r.rosters, convID)
		}
	}
}
