package gateway

import (
	"encoding/json"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventBroadcaster sends JSON-RPC notifications to authenticated clients.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     uint64
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger,
	}
}

// Broadcast sends method as a notification. params gains a "seq" field that
// increases by one per notification so clients can detect gaps.
func (b *EventBroadcaster) Broadcast(method string, params map[string]any) {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	seq := b.nextSeq()
	out["seq"] = seq

	data, err := json.Marshal(Notification{JSONRPC: "2.0", Method: method, Params: out})
	if err != nil {
		b.logger.Error().Err(err).Str("method", method).Msg("Failed to marshal notification")
		return
	}

	clients := b.clients.GetAuthenticatedClients()
	if len(clients) == 0 {
		b.logger.Debug().Str("method", method).Uint64("seq", seq).Msg("No authenticated clients to notify")
		return
	}

	successCount := 0
	failureCount := 0
	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			b.logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("method", method).
				Msg("Failed to notify client")
			failureCount++
			continue
		}
		successCount++
	}

	b.logger.Debug().
		Str("method", method).
		Uint64("seq", seq).
		Int("success", successCount).
		Int("failed", failureCount).
		Msg("Notification sent")
}

func (b *EventBroadcaster) nextSeq() uint64 {
	return atomic.AddUint64(&b.seq, 1)
}
