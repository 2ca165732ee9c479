package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/sjawhar/voice-journal/internal/session"
)

// Hub fans events out to websocket subscribers. Slow subscribers drop
// messages rather than block the pipeline.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastStateChanged(state session.State, runID string) {
	h.broadcastEvent(StateChangedEvent{
		Event: newEvent("state_changed", time.Now().UTC()),
		State: string(state),
		RunID: runID,
	})
}

func (h *Hub) BroadcastEntryAppended(entry session.Entry) {
	h.broadcastEvent(EntryAppendedEvent{
		Event:     newEvent("entry_appended", time.Now().UTC()),
		Role:      entry.Role,
		Content:   entry.Content,
		CreatedAt: entry.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

func (h *Hub) BroadcastTurnCompleted(runID string) {
	h.broadcastEvent(TurnCompletedEvent{
		Event: newEvent("turn_completed", time.Now().UTC()),
		RunID: runID,
	})
}

func (h *Hub) BroadcastTurnFailed(runID, stage, message string) {
	h.broadcastEvent(TurnFailedEvent{
		Event: newEvent("turn_failed", time.Now().UTC()),
		RunID: runID,
		Stage: stage,
		Error: message,
	})
}

func (h *Hub) BroadcastSessionEnded(reason string) {
	h.broadcastEvent(SessionEndedEvent{
		Event:  newEvent("session_ended", time.Now().UTC()),
		Reason: reason,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := sonic.Marshal(event)
	if err != nil {
		slog.Warn("event marshal failed", "error", err)
		return
	}
	h.Broadcast(payload)
}
