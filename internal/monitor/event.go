package monitor

import "time"

// Event is the signaling contract monitors run on. psync.Event satisfies
// it for in-process use; companion mode substitutes guarded and teed
// variants that ride the control link.
type Event interface {
	Set()
	Clear()
	IsSet() bool
	Wait(timeout time.Duration) bool
}

// guardedEvent suppresses Set once the counterpart companion process is
// known dead, so no caller blocks or errors signaling a process that has
// already exited. All other operations delegate.
type guardedEvent struct {
	inner Event
	rt    *Runtime
	onSet func()
}

func (g *guardedEvent) Set() {
	if g.rt.companionEnabled(nil) && !g.rt.IsCompanionAlive(nil) {
		return
	}
	g.inner.Set()
	if g.onSet != nil {
		g.onSet()
	}
}

func (g *guardedEvent) Clear()                          { g.inner.Clear() }
func (g *guardedEvent) IsSet() bool                     { return g.inner.IsSet() }
func (g *guardedEvent) Wait(timeout time.Duration) bool { return g.inner.Wait(timeout) }

// teeEvent mirrors Set onto a side effect, used by the companion host to
// forward started/done transitions to the parent.
type teeEvent struct {
	Event
	onSet func()
}

func (t *teeEvent) Set() {
	t.Event.Set()
	if t.onSet != nil {
		t.onSet()
	}
}
