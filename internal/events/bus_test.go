package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := New()
	got := make(chan MonitorStartedEvent, 1)
	unsub := bus.Subscribe(func(e MonitorStartedEvent) { got <- e })
	defer unsub()

	bus.Publish(MonitorStartedEvent{TaskID: "t1", Monitor: "resource", Mode: "thread"})

	select {
	case e := <-got:
		if e.Monitor != "resource" || e.TaskID != "t1" {
			t.Fatalf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestSubscribeUnknownHandler(t *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(s string) {})
	unsub() // no-op unsubscribe must be callable
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 1)
	unsub := SubscribeToChannel[CompanionExitedEvent](bus, ch)
	defer unsub()

	bus.Publish(CompanionExitedEvent{TaskID: "t1", PID: 42, ExitCode: 0})
	select {
	case v := <-ch:
		if e, ok := v.(CompanionExitedEvent); !ok || e.PID != 42 {
			t.Fatalf("unexpected channel payload: %#v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("channel subscriber never received the event")
	}
}
