// Package reports implements the daemon's internal publish/subscribe
// signalling channel: a closed enumeration of report identifiers, each with
// its own ordered listener queue, dispatched synchronously on the main loop.
//
// Wraps github.com/asaskevich/EventBus, the way a global event bus over ad
// hoc topic strings would, generalized here into a typed, closed Report/ID
// registry.
package reports

import (
	"sync"

	"github.com/asaskevich/EventBus"
)

// ID names a report from the closed enumeration the daemon core emits.
type ID string

const (
	BrailleDeviceOnline  ID = "braille:device:online"
	BrailleDeviceOffline ID = "braille:device:offline"
	BrailleDeviceFailed  ID = "braille:device:failed"
	KeyEvent             ID = "key:event"
	ScreenUpdated        ID = "screen:updated"
	SessionConnected     ID = "brlapi:session:connected"
	SessionDisconnected  ID = "brlapi:session:disconnected"
	ParamChanged         ID = "brlapi:param:changed"
	ActivityTransitioned ID = "activity:transitioned"
	CommandRejected      ID = "command:rejected"
	ConfigReloaded       ID = "config:reloaded"
)

// ListenerHandle identifies a registration so it can be removed later.
type ListenerHandle struct {
	id ID
	n  uint64
}

type registration struct {
	n  uint64
	cb func(payload any)
}

// Bus is a typed publish/subscribe channel. Reports of a given ID are
// delivered to listeners in registration order, synchronously, on whichever
// goroutine calls Report — the daemon core only ever calls it from the main
// loop, so listeners observe a consistent serialization.
type Bus struct {
	mu        sync.Mutex
	inner     EventBus.Bus
	listeners map[ID][]registration
	nextN     uint64
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{
		inner:     EventBus.New(),
		listeners: make(map[ID][]registration),
	}
}

// RegisterListener appends cb to id's listener queue and returns a handle
// usable with UnregisterListener.
func (b *Bus) RegisterListener(id ID, cb func(payload any)) ListenerHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextN++
	n := b.nextN
	b.listeners[id] = append(b.listeners[id], registration{n: n, cb: cb})

	topic := string(id)
	_ = b.inner.Subscribe(topic, cb)
	return ListenerHandle{id: id, n: n}
}

// UnregisterListener removes a previously registered listener. Idempotent.
func (b *Bus) UnregisterListener(h ListenerHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.listeners[h.id]
	for i, r := range regs {
		if r.n == h.n {
			b.listeners[h.id] = append(regs[:i], regs[i+1:]...)
			_ = b.inner.Unsubscribe(string(h.id), r.cb)
			return
		}
	}
}

// Report synchronously invokes every listener registered for id, in
// registration order, with payload. Dispatch itself is delegated to the
// underlying EventBus.Bus, which calls synchronous subscribers in
// subscription order; the registration slice above exists only for
// handle-based unregistration and introspection.
func (b *Bus) Report(id ID, payload any) {
	b.inner.Publish(string(id), payload)
}

// ListenerCount reports how many listeners are currently registered for id.
func (b *Bus) ListenerCount(id ID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[id])
}
