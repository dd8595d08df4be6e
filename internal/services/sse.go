package services

import (
	"sync"
)

// OperationEvent is a real-time sync operation status update pushed to
// connected UI clients.
type OperationEvent struct {
	OperationID  string `json:"operation_id"`
	ConnectionID uint   `json:"connection_id"`
	ProjectID    uint   `json:"project_id"`
	Status       string `json:"status"`
	Created      int    `json:"created"`
	Updated      int    `json:"updated"`
	Skipped      int    `json:"skipped"`
	Error        string `json:"error,omitempty"`
}

// SSEHub manages SSE client connections and event broadcasting.
type SSEHub struct {
	clients map[string]chan OperationEvent
	mu      sync.RWMutex
}

// NewSSEHub creates a new SSE hub instance.
func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients: make(map[string]chan OperationEvent),
	}
}

// Subscribe registers a new client and returns a channel for receiving events.
func (h *SSEHub) Subscribe(clientID string) <-chan OperationEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Buffered so a slow client cannot block publishers.
	ch := make(chan OperationEvent, 100)
	h.clients[clientID] = ch
	return ch
}

// Unsubscribe removes a client from the hub.
func (h *SSEHub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[clientID]; ok {
		close(ch)
		delete(h.clients, clientID)
	}
}

// Publish broadcasts an event to all connected clients.
func (h *SSEHub) Publish(event OperationEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.clients {
		// Non-blocking send; drop the event if the client buffer is full.
		select {
		case ch <- event:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Global SSE hub instance.
var globalSSEHub *SSEHub
var sseHubOnce sync.Once

// GetSSEHub returns the global SSE hub singleton.
func GetSSEHub() *SSEHub {
	sseHubOnce.Do(func() {
		globalSSEHub = NewSSEHub()
	})
	return globalSSEHub
}
