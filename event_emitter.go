package gatewayws

import (
	"sync"
)

type callback[T any] func(T)

// EventEmitter maps events (of type K) to callbacks receiving a value of type V.
type EventEmitter[K comparable, V any] struct {
	listeners map[K][]callback[V]
	closed    bool
	lock      sync.RWMutex
}

func NewEventEmitter[K comparable, V any]() *EventEmitter[K, V] {
	return &EventEmitter[K, V]{
		listeners: make(map[K][]callback[V]),
	}
}

// On registers a new listener for the given event. Listeners registered after Close are dropped.
func (e *EventEmitter[K, V]) On(event K, listener func(V)) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.closed {
		return
	}
	e.listeners[event] = append(e.listeners[event], listener)
}

// Emit calls every listener of event synchronously, in registration order. Listeners run outside
// the emitter lock, so they may register further listeners or trigger other emissions.
func (e *EventEmitter[K, V]) Emit(event K, data V) {
	e.lock.RLock()
	listeners := append([]callback[V](nil), e.listeners[event]...)
	e.lock.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}

// Close removes all listeners; later emissions reach nobody.
func (e *EventEmitter[K, V]) Close() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.closed = true
	e.listeners = make(map[K][]callback[V])
}
