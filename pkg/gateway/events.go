package gateway

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/storyround/storyround/internal/observability"
)

// EventPusher delivers server-initiated events. Session change events go to
// the subscribed client only; lifecycle events fan out to every
// authenticated client.
type EventPusher struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     uint64
}

// NewEventPusher creates a new event pusher
func NewEventPusher(clients *ClientRegistry, logger zerolog.Logger) *EventPusher {
	return &EventPusher{
		clients: clients,
		logger:  logger,
	}
}

// PushToClient sends one event to one client.
func (p *EventPusher) PushToClient(clientID string, msg EventMessage) {
	client, exists := p.clients.Get(clientID)
	if !exists {
		p.logger.Debug().
			Str("clientId", clientID).
			Str("event", msg.Event).
			Msg("Client gone, dropping event")
		observability.RecordEventPush(msg.Event, false)
		return
	}

	p.stamp(&msg)
	if err := client.WriteJSON(msg); err != nil {
		p.logger.Warn().
			Err(err).
			Str("clientId", clientID).
			Str("event", msg.Event).
			Int64("seq", msg.Seq).
			Msg("Failed to push event to client")
		observability.RecordEventPush(msg.Event, false)
		return
	}

	observability.RecordEventPush(msg.Event, true)
}

// Broadcast sends a lifecycle event to all authenticated clients.
func (p *EventPusher) Broadcast(event string, data interface{}) {
	msg := EventMessage{
		Event: event,
		Data:  data,
	}
	p.stamp(&msg)

	clients := p.clients.GetAuthenticatedClients()
	if len(clients) == 0 {
		p.logger.Debug().
			Str("event", msg.Event).
			Int64("seq", msg.Seq).
			Msg("No authenticated clients to broadcast to")
		return
	}

	successCount := 0
	failureCount := 0
	for _, client := range clients {
		if err := client.WriteJSON(msg); err != nil {
			p.logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("event", msg.Event).
				Int64("seq", msg.Seq).
				Msg("Failed to broadcast to client")
			observability.RecordEventPush(msg.Event, false)
			failureCount++
		} else {
			observability.RecordEventPush(msg.Event, true)
			successCount++
		}
	}

	p.logger.Debug().
		Str("event", msg.Event).
		Int64("seq", msg.Seq).
		Int("success", successCount).
		Int("failed", failureCount).
		Msg("Event broadcast complete")
}

func (p *EventPusher) stamp(msg *EventMessage) {
	msg.Type = "event"
	if msg.Seq == 0 {
		msg.Seq = int64(atomic.AddUint64(&p.seq, 1))
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
}
