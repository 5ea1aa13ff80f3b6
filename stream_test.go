package barterchat

import (
	"sync"
	"testing"
	"time"
)

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func TestEventStream(t *testing.T) {
	t.Run("fan out in publish order", func(t *testing.T) {
		s := NewEventStream()
		a, b := s.Subscribe(), s.Subscribe()
		defer a.Close()
		defer b.Close()

		for i := int64(1); i <= 3; i++ {
			s.Publish(TypingStoppedEvent{ConversationID: i, UserID: i})
		}
		for _, sub := range []*Subscription{a, b} {
			for i := int64(1); i <= 3; i++ {
				ev := recv(t, sub).(TypingStoppedEvent)
				if ev.ConversationID != i {
					t.Fatalf("expected conversation %d, got %d", i, ev.ConversationID)
				}
			}
		}
	})

	t.Run("no replay for late subscribers", func(t *testing.T) {
		s := NewEventStream()
		s.Publish(TypingStoppedEvent{ConversationID: 1})
		sub := s.Subscribe()
		defer sub.Close()
		select {
		case ev := <-sub.C:
			t.Fatalf("unexpected event %#v", ev)
		default:
		}
	})

	t.Run("slow subscriber drops without blocking others", func(t *testing.T) {
		s := NewEventStream()
		slow := s.SubscribeBuffered(1)
		fast := s.SubscribeBuffered(10)
		defer slow.Close()
		defer fast.Close()

		done := make(chan struct{})
		go func() {
			for i := 0; i < 5; i++ {
				s.Publish(TypingStoppedEvent{ConversationID: int64(i)})
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("publisher blocked")
		}

		if got := slow.Dropped(); got != 4 {
			t.Errorf("expected 4 dropped, got %d", got)
		}
		if got := fast.Dropped(); got != 0 {
			t.Errorf("expected 0 dropped, got %d", got)
		}
		if ev := recv(t, slow).(TypingStoppedEvent); ev.ConversationID != 0 {
			t.Errorf("expected first event kept, got %d", ev.ConversationID)
		}
		for i := 0; i < 5; i++ {
			recv(t, fast)
		}
	})

	t.Run("unsubscribe is idempotent", func(t *testing.T) {
		s := NewEventStream()
		sub := s.Subscribe()
		sub.Close()
		sub.Close()
		if s.Len() != 0 {
			t.Fatalf("expected 0 subscribers, got %d", s.Len())
		}
		if _, ok := <-sub.C; ok {
			t.Fatal("expected closed channel")
		}
		s.Publish(TypingStoppedEvent{})
	})

	t.Run("close ends all subscriptions", func(t *testing.T) {
		s := NewEventStream()
		a := s.Subscribe()
		s.Close()
		if _, ok := <-a.C; ok {
			t.Fatal("expected closed channel")
		}
		a.Close()

		late := s.Subscribe()
		if _, ok := <-late.C; ok {
			t.Fatal("expected subscription on closed stream to be closed")
		}
		s.Publish(TypingStoppedEvent{})
	})

	t.Run("concurrent publish and subscribe", func(t *testing.T) {
		s := NewEventStream()
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					s.Publish(TypingStoppedEvent{UserID: int64(j)})
				}
			}()
			go func() {
				defer wg.Done()
				sub := s.SubscribeBuffered(4)
				sub.Close()
			}()
		}
		wg.Wait()
		s.Close()
	})
}
