// Package broker implements the Notification Broker (§4.I): a bounded
// outbound channel per connected session, fed by registry-change events
// (translated to list_changed notifications), progress reports, and
// server-initiated requests, with a priority-drop backpressure policy so a
// slow client never blocks a publisher: a registered per-destination
// channel, bounded buffer, and drop-and-log on overflow, applied to
// per-session MCP notification delivery.
package broker

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/mcpgateway/internal/registry"
	"github.com/agentoven/mcpgateway/pkg/models"
)

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// priority classifies an outbound message for the drop policy: progress and
// resources/updated form the droppable tier and are dropped alike when an
// outbox is full (the two are not ordered against each other); a
// list_changed message is not dropped while a droppable message is buffered
// that it can evict (§4.I).
type priority int

const (
	priorityProgress priority = iota
	priorityResourceUpdated
	priorityListChanged
	priorityOther
)

func classify(method string) priority {
	switch method {
	case "notifications/progress":
		return priorityProgress
	case "notifications/resources/updated":
		return priorityResourceUpdated
	case "notifications/tools/list_changed", "notifications/resources/list_changed", "notifications/prompts/list_changed":
		return priorityListChanged
	default:
		return priorityOther
	}
}

const defaultSessionBuffer = 1024

// Broker fans outbound messages out to per-session channels. It implements
// protocol.Broker structurally (no import back into internal/protocol, to
// avoid a cycle: protocol depends on broker's interface shape, not the
// reverse).
type Broker struct {
	mu       sync.RWMutex
	outboxes map[string]chan *models.RPCMessage
	bufSize  int
}

// New constructs a Broker whose per-session outbound channels hold bufSize
// messages before the drop policy engages (default 1024, §5).
func New(bufSize int) *Broker {
	if bufSize <= 0 {
		bufSize = defaultSessionBuffer
	}
	return &Broker{outboxes: map[string]chan *models.RPCMessage{}, bufSize: bufSize}
}

// Register opens an outbound channel for sessionID and returns the receive
// end for the transport's send loop to drain.
func (b *Broker) Register(sessionID string) <-chan *models.RPCMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *models.RPCMessage, b.bufSize)
	b.outboxes[sessionID] = ch
	return ch
}

// Unregister closes and removes sessionID's outbound channel, e.g. when the
// transport's connection drops.
func (b *Broker) Unregister(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.outboxes[sessionID]; ok {
		close(ch)
		delete(b.outboxes, sessionID)
	}
}

// Send enqueues msg for sessionID. Returns false if the session has no
// registered outbox (already disconnected) or if backpressure required
// dropping msg because it is lower priority than what's already queued and
// the buffer is full; true otherwise. Never blocks.
func (b *Broker) Send(sessionID string, msg *models.RPCMessage) bool {
	b.mu.RLock()
	ch, ok := b.outboxes[sessionID]
	b.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case ch <- msg:
		return true
	default:
	}

	if classify(msg.Method) == priorityListChanged {
		// Never drop list_changed: make room by evicting one buffered
		// message at a lower priority than list_changed, if any exists.
		return b.forceEnqueueListChanged(ch, msg)
	}

	log.Debug().Str("session", sessionID).Str("method", msg.Method).Msg("notification broker dropped message: outbox full")
	return false
}

// forceEnqueueListChanged walks the buffered entries from the head, moving
// each list_changed-or-higher entry to the tail, until it finds a
// progress/resource update to evict; that frees the slot for msg. If the
// buffer holds no such entry, nothing is evicted and msg is dropped.
func (b *Broker) forceEnqueueListChanged(ch chan *models.RPCMessage, msg *models.RPCMessage) bool {
	for n := len(ch); n > 0; n-- {
		var head *models.RPCMessage
		select {
		case head = <-ch:
		default:
		}
		if head == nil || classify(head.Method) < priorityListChanged {
			break
		}
		select {
		case ch <- head:
		default:
		}
	}

	select {
	case ch <- msg:
		return true
	default:
		return false
	}
}

// Broadcast sends msg to every currently registered session, used for
// registry-change-derived list_changed notifications that apply gateway-
// wide rather than to one session.
func (b *Broker) Broadcast(msg *models.RPCMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.outboxes {
		select {
		case ch <- msg:
		default:
			if classify(msg.Method) == priorityListChanged {
				b.forceEnqueueListChanged(ch, msg)
				continue
			}
			log.Debug().Str("session", id).Str("method", msg.Method).Msg("notification broker dropped broadcast: outbox full")
		}
	}
}

// WatchRegistry subscribes to reg's change events and broadcasts the
// corresponding list_changed notification. Intended to be wired once at
// startup: reg.OnChange(broker.WatchRegistry(broker)).
func WatchRegistry(b *Broker) func(registry.ChangeEvent) {
	return func(ev registry.ChangeEvent) {
		b.Broadcast(&models.RPCMessage{JSONRPC: "2.0", Method: "notifications/tools/list_changed"})
	}
}

// Progress publishes a notifications/progress message scoped to one
// session and progress token.
func (b *Broker) Progress(sessionID, token string, progress, total float64) bool {
	params := map[string]interface{}{"progressToken": token, "progress": progress}
	if total > 0 {
		params["total"] = total
	}
	paramsBytes := mustMarshal(params)
	return b.Send(sessionID, &models.RPCMessage{JSONRPC: "2.0", Method: "notifications/progress", Params: paramsBytes})
}
