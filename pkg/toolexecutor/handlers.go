package toolexecutor

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc implements one tool. args have already been validated and
// carry schema defaults. The returned value must be an object with a boolean
// "success" field.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// HandlerTable binds tool ids to handler functions.
type HandlerTable struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewHandlerTable creates an empty HandlerTable.
func NewHandlerTable() *HandlerTable {
	return &HandlerTable{handlers: make(map[string]HandlerFunc)}
}

// Bind associates a handler with a tool id, replacing any earlier binding.
func (t *HandlerTable) Bind(toolID string, fn HandlerFunc) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	_, replaced := t.handlers[toolID]
	t.handlers[toolID] = fn
	t.mu.Unlock()

	log.Debug().Str("tool", toolID).Bool("replaced", replaced).Msg("Handler bound")
}

// Unbind removes a binding.
func (t *HandlerTable) Unbind(toolID string) {
	t.mu.Lock()
	delete(t.handlers, toolID)
	t.mu.Unlock()
}

// Lookup returns the handler bound to toolID.
func (t *HandlerTable) Lookup(toolID string) (HandlerFunc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.handlers[toolID]
	return fn, ok
}

// Bound returns the sorted ids that have a handler.
func (t *HandlerTable) Bound() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.handlers))
	for id := range t.handlers {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Missing returns the ids from toolIDs with no handler, in input order.
func (t *HandlerTable) Missing(toolIDs []string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var missing []string
	for _, id := range toolIDs {
		if _, ok := t.handlers[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
