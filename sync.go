package barterchat

import (
	"context"
	"sync"
	"time"
)

// SyncConfig configures a ChatSync.
type SyncConfig struct {
	SelfUserID      int64
	SelfDisplayName string // sent as the typing nickname

	Realtime   *RealtimeConfig
	Reconciler *ReconcilerConfig

	// PumpBuffer is the capacity of the subscription feeding the reconciler.
	PumpBuffer int
	Logger     Logger
}

func (c *SyncConfig) defaults() {
	if c.PumpBuffer <= 0 {
		c.PumpBuffer = 1024
	}
	if c.Realtime == nil {
		c.Realtime = &RealtimeConfig{}
	}
	if c.Reconciler == nil {
		c.Reconciler = &ReconcilerConfig{}
	}
	if c.Reconciler.SelfUserID == 0 {
		c.Reconciler.SelfUserID = c.SelfUserID
	}
	if c.Reconciler.SelfDisplayName == "" {
		c.Reconciler.SelfDisplayName = c.SelfDisplayName
	}
	if c.Logger != nil {
		if c.Realtime.Logger == nil {
			c.Realtime.Logger = c.Logger
		}
		if c.Reconciler.Logger == nil {
			c.Reconciler.Logger = c.Logger
		}
	}
	c.Logger = orNoop(c.Logger)
}

// ChatSync wires the relay connection, the reconciler and the typing emitter
// together. It is what an application holds for the lifetime of a session.
type ChatSync struct {
	rt       *RealtimeClient
	rec      *Reconciler
	emitter  *TypingEmitter
	logger   Logger
	pumpSize int

	mu   sync.Mutex
	sub  *Subscription
	done chan struct{}
}

// NewChatSync creates the sync layer on top of client. A nil config uses
// defaults.
func NewChatSync(client *Client, config *SyncConfig) *ChatSync {
	if config == nil {
		config = &SyncConfig{}
	}
	config.defaults()
	rt := client.Realtime(config.Realtime)
	return &ChatSync{
		rt:       rt,
		rec:      NewReconciler(client, client, config.Reconciler),
		emitter:  NewTypingEmitter(rt, config.SelfDisplayName),
		logger:   config.Logger,
		pumpSize: config.PumpBuffer,
	}
}

// Start subscribes the reconciler to the live stream. Calling it again is a
// no-op.
func (s *ChatSync) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return
	}
	s.sub = s.rt.Events().SubscribeBuffered(s.pumpSize)
	s.done = make(chan struct{})
	go s.pump(s.sub, s.done)
}

// pump feeds chat events to the reconciler. Drops are reported as soon as
// the pump catches up, since a missed message stays missing until the
// conversation is reloaded.
func (s *ChatSync) pump(sub *Subscription, done chan struct{}) {
	defer close(done)
	var seen uint64
	for ev := range sub.C {
		if ce, ok := ev.(ChatEvent); ok {
			s.rec.IngestLive(ce)
		}
		if n := sub.Dropped(); n > seen {
			ReconcilerMissedTotal.Add(float64(n - seen))
			s.logger.Warn("reconciler missed live events", map[string]any{
				"dropped": n - seen,
				"total":   n,
			})
			seen = n
		}
	}
}

// Close stops the pump and disconnects. The ChatSync may be started again.
func (s *ChatSync) Close() error {
	s.mu.Lock()
	sub, done := s.sub, s.done
	s.sub, s.done = nil, nil
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
		<-done
	}
	return s.rt.Disconnect()
}

// Connect opens the relay connection. See RealtimeClient.Connect.
func (s *ChatSync) Connect(ctx context.Context) error {
	return s.rt.Connect(ctx)
}

// EnsureConnected resets the reconnect counter and connects unless a
// connection is already up or in progress.
func (s *ChatSync) EnsureConnected(ctx context.Context) error {
	s.rt.resetAttempts()
	return s.rt.Connect(ctx)
}

// Disconnect closes the relay connection.
func (s *ChatSync) Disconnect() error {
	return s.rt.Disconnect()
}

// IsConnected reports whether the relay connection is up.
func (s *ChatSync) IsConnected() bool {
	return s.rt.IsConnected()
}

// State returns the relay connection state.
func (s *ChatSync) State() ConnectionState {
	return s.rt.State()
}

// Events returns the live event stream.
func (s *ChatSync) Events() *EventStream {
	return s.rt.Events()
}

// Realtime returns the underlying relay client.
func (s *ChatSync) Realtime() *RealtimeClient {
	return s.rt
}

// Reconciler returns the underlying reconciler.
func (s *ChatSync) Reconciler() *Reconciler {
	return s.rec
}

func (s *ChatSync) NotifyTyping(ctx context.Context, conversationID, targetUserID int64) {
	s.emitter.NotifyTyping(ctx, conversationID, targetUserID)
}

func (s *ChatSync) NotifyStopTyping(ctx context.Context, conversationID, targetUserID int64) {
	s.emitter.NotifyStopTyping(ctx, conversationID, targetUserID)
}

func (s *ChatSync) LoadPage(ctx context.Context, conversationID int64, page, size int) ([]Message, error) {
	return s.rec.LoadPage(ctx, conversationID, page, size)
}

func (s *ChatSync) Send(ctx context.Context, conversationID, receiverID int64, content string) (*Message, error) {
	return s.rec.Send(ctx, conversationID, receiverID, content)
}

func (s *ChatSync) Messages(conversationID int64) []Message {
	return s.rec.Messages(conversationID)
}

func (s *ChatSync) Typing(conversationID int64) []Typist {
	return s.rec.Typing(conversationID)
}

// CloseConversation forgets a conversation's buffer. The shared connection
// stays open.
func (s *ChatSync) CloseConversation(conversationID int64) {
	s.rec.Evict(conversationID)
}

// WaitForState blocks until the connection reaches one of states or ctx is
// done. It returns the state reached.
func (s *ChatSync) WaitForState(ctx context.Context, states ...ConnectionState) (ConnectionState, error) {
	sub := s.rt.Events().Subscribe()
	defer sub.Close()

	match := func(st ConnectionState) bool {
		for _, want := range states {
			if st == want {
				return true
			}
		}
		return false
	}
	if st := s.rt.State(); match(st) {
		return st, nil
	}
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return s.rt.State(), ctx.Err()
		case ev, ok := <-sub.C:
			if !ok {
				return s.rt.State(), ErrNotConnected
			}
			if sc, isState := ev.(StateChangeEvent); isState && match(sc.To) {
				return sc.To, nil
			}
		case <-tick.C:
			if st := s.rt.State(); match(st) {
				return st, nil
			}
		}
	}
}
