package registry

import (
	"github.com/rs/zerolog/log"
)

// EventType names a registry mutation.
type EventType string

const (
	EventRegistered   EventType = "registered"
	EventReplaced     EventType = "replaced"
	EventUnregistered EventType = "unregistered"
	EventEnabled      EventType = "enabled"
	EventDisabled     EventType = "disabled"
)

// Event is delivered to subscribers after a mutation is visible to readers.
type Event struct {
	Type   EventType `json:"type"`
	ToolID string    `json:"tool_id"`
}

// Subscribe registers fn for registry events and returns a function that
// removes the subscription. fn runs synchronously on the mutating goroutine.
func (r *Registry) Subscribe(fn func(Event)) func() {
	r.subMu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subscribers, id)
		r.subMu.Unlock()
	}
}

func (r *Registry) publish(ev Event) {
	r.subMu.RLock()
	subs := make([]func(Event), 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		subs = append(subs, fn)
	}
	r.subMu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error().
						Interface("panic", rec).
						Str("event", string(ev.Type)).
						Msg("Registry subscriber panicked")
				}
			}()
			fn(ev)
		}()
	}
}
