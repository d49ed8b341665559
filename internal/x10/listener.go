package x10

import (
	"fmt"
	"sync"
)

// EventListener receives decoded inbound events.
type EventListener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to EventListener.
type ListenerFunc func(Event)

// OnEvent calls f(e).
func (f ListenerFunc) OnEvent(e Event) { f(e) }

// ListenerRegistry fans inbound events out to subscribers.
//
// Listeners are called synchronously, in registration order. A panicking
// listener is recovered and logged; the remaining listeners still run.
//
// Thread Safety: all methods are safe for concurrent use.
type ListenerRegistry struct {
	mu        sync.RWMutex
	listeners []EventListener

	logger   Logger
	loggerMu sync.RWMutex
}

// NewListenerRegistry creates an empty registry.
func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{logger: noopLogger{}}
}

// SetLogger sets the logger used to report listener panics.
func (r *ListenerRegistry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

// Add registers a listener. Nil listeners are ignored.
func (r *ListenerRegistry) Add(l EventListener) {
	if l == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

// Len returns the number of registered listeners.
func (r *ListenerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// Notify delivers e to every listener.
func (r *ListenerRegistry) Notify(e Event) {
	r.mu.RLock()
	listeners := make([]EventListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, l := range listeners {
		r.deliver(l, e)
	}
}

func (r *ListenerRegistry) deliver(l EventListener, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.loggerMu.RLock()
			logger := r.logger
			r.loggerMu.RUnlock()
			logger.Error("x10: listener panic", "error", fmt.Errorf("%v", rec),
				"function", e.Function.String())
		}
	}()
	l.OnEvent(e)
}
