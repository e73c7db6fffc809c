package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/roofscope/backend/pkg/logger"
)

// Event types published on the per-session stream.
const (
	TypeSessionUpdated    = "session.updated"
	TypeEvidenceAttached  = "evidence.attached"
	TypeAnalysisCompleted = "analysis.completed"
)

// Event is one message on a session's live stream.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Hub fans session events out to subscribers. It replaces the poll/refetch
// loop field devices used to run while waiting for analysis results.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	bufferSize  int
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Hub{
		subscribers: make(map[string]map[chan Event]struct{}),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a listener for one session's events. The returned
// channel is closed by Unsubscribe.
func (h *Hub) Subscribe(sessionID string) chan Event {
	ch := make(chan Event, h.bufferSize)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscribers[sessionID] == nil {
		h.subscribers[sessionID] = make(map[chan Event]struct{})
	}
	h.subscribers[sessionID][ch] = struct{}{}

	return ch
}

func (h *Hub) Unsubscribe(sessionID string, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[sessionID]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}

	delete(subs, ch)
	if len(subs) == 0 {
		delete(h.subscribers, sessionID)
	}
	close(ch)
}

// Publish delivers an event to every subscriber of sessionID. Slow subscribers
// lose events rather than block the publisher.
func (h *Hub) Publish(sessionID string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers[sessionID] {
		select {
		case ch <- event:
		default:
			logger.Warn("Dropping event for slow subscriber",
				zap.String("session_id", sessionID),
				zap.String("event_type", event.Type),
			)
		}
	}
}

// SubscriberCount reports the number of listeners on one session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[sessionID])
}
