package mainbus

import (
	"sync"
	"testing"
	"time"
)

const (
	msgSwitchProfile Type = iota + 1
	msgOther
)

func TestDispatchInvokesRegisteredHandler(t *testing.T) {
	b := New(4)

	type call struct {
		msg  Message
		data any
	}
	got := make(chan call, 1)
	b.AddHandler(msgSwitchProfile, func(msg Message, data any) {
		got <- call{msg: msg, data: data}
	}, "opaque-data")

	b.Send(Message{Type: msgSwitchProfile, Payload: "device=D1,iodev=I1"})

	select {
	case c := <-got:
		if c.msg.Payload != "device=D1,iodev=I1" {
			t.Fatalf("got payload %v, want device=D1,iodev=I1", c.msg.Payload)
		}
		if c.data != "opaque-data" {
			t.Fatalf("got data %v, want opaque-data", c.data)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestRemovedHandlerDropsMessageSilently(t *testing.T) {
	b := New(4)

	invoked := make(chan struct{}, 1)
	b.AddHandler(msgSwitchProfile, func(Message, any) { invoked <- struct{}{} }, nil)
	b.RmHandler(msgSwitchProfile)

	b.Send(Message{Type: msgSwitchProfile})

	select {
	case <-invoked:
		t.Fatal("handler invoked after removal")
	case <-time.After(100 * time.Millisecond):
		// expected: message dropped silently
	}
}

func TestUnregisteredTypeIsDroppedSilently(t *testing.T) {
	b := New(4)
	// No handler registered for msgOther at all; must not panic.
	b.Send(Message{Type: msgOther})
}

func TestInOrderDeliveryPerSender(t *testing.T) {
	b := New(4)

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	b.AddHandler(msgSwitchProfile, func(msg Message, _ any) {
		mu.Lock()
		n := msg.Payload.(int)
		order = append(order, n)
		if n == 9 {
			close(done)
		}
		mu.Unlock()
	}, nil)

	for i := 0; i < 10; i++ {
		b.Send(Message{Type: msgSwitchProfile, Payload: i})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all messages delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("got order %v, want strictly increasing from a single sender", order)
		}
	}
}
