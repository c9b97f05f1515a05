package daemon

import (
	"io"
	"log"
	"testing"
	"time"
)

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster(log.New(io.Discard, "", 0), nil)

	ch1, unsub1 := b.Subscribe()
	ch2, unsub2 := b.Subscribe()
	defer unsub1()
	defer unsub2()

	b.Broadcast("heartbeat", map[string]any{"timestamp": 1})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Name != "heartbeat" {
				t.Errorf("event = %q", ev.Name)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestBroadcasterDropsSlowSubscriber(t *testing.T) {
	counts := []int{}
	b := NewBroadcaster(log.New(io.Discard, "", 0), func(n int) { counts = append(counts, n) })

	ch, unsub := b.Subscribe()
	defer unsub()

	// Never read: the buffer fills and the subscriber is dropped.
	for i := 0; i < subscriberBuffer+1; i++ {
		b.Broadcast("heartbeat", i)
	}

	if b.SubscriberCount() != 0 {
		t.Fatalf("subscribers = %d, want 0", b.SubscriberCount())
	}
	// The channel is closed after draining its backlog.
	drained := 0
	for range ch {
		drained++
	}
	if drained != subscriberBuffer {
		t.Errorf("drained %d buffered events, want %d", drained, subscriberBuffer)
	}
	if len(counts) < 2 || counts[len(counts)-1] != 0 {
		t.Errorf("count transitions = %v, want final 0", counts)
	}
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	var last int
	b := NewBroadcaster(log.New(io.Discard, "", 0), func(n int) { last = n })

	_, unsub := b.Subscribe()
	if last != 1 {
		t.Fatalf("count after subscribe = %d", last)
	}
	unsub()
	if last != 0 {
		t.Fatalf("count after unsubscribe = %d", last)
	}
	unsub() // second call is a no-op
	if b.SubscriberCount() != 0 {
		t.Error("subscriber survived unsubscribe")
	}
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster(log.New(io.Discard, "", 0), nil)
	ch, _ := b.Subscribe()
	b.Close()

	if _, ok := <-ch; ok {
		t.Error("channel still open after Close")
	}
	// Broadcast and Subscribe after Close are safe no-ops.
	b.Broadcast("heartbeat", nil)
	ch2, unsub := b.Subscribe()
	defer unsub()
	if _, ok := <-ch2; ok {
		t.Error("post-close subscription received an event")
	}
}

func TestIdleTimer(t *testing.T) {
	fired := make(chan struct{}, 1)
	timer := newIdleTimer(20*time.Millisecond, func() { fired <- struct{}{} })

	timer.arm()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("armed timer never fired")
	}

	// Cancelled timers stay quiet, and reset on a cancelled timer is a
	// no-op.
	timer.arm()
	timer.cancel()
	timer.reset()
	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(60 * time.Millisecond):
	}

	// Keep-alive mode never fires.
	forever := newIdleTimer(0, func() { t.Error("keep-alive timer fired") })
	forever.arm()
	time.Sleep(30 * time.Millisecond)
}
