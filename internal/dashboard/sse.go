package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/gavel/internal/hearing"
)

// streamEvent is one SSE payload.
type streamEvent struct {
	Kind      string    `json:"kind"` // opened, edited, roster, verdict, closed
	HearingID string    `json:"hearing_id"`
	Detail    string    `json:"detail,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	At        time.Time `json:"at"`
}

// Hub fans hearing lifecycle events out to connected SSE clients. It
// implements hearing.Recorder, so it plugs into the daemon alongside the
// case log. A slow client's buffer overflowing drops events for that client
// rather than blocking the hearing flow.
type Hub struct {
	mu      sync.Mutex
	clients map[chan streamEvent]bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[chan streamEvent]bool)}
}

func (h *Hub) HearingOpened(hr *hearing.Hearing) {
	h.broadcast(streamEvent{Kind: "opened", HearingID: hr.ID})
}

func (h *Hub) HearingEdited(hr *hearing.Hearing, field, actor string) {
	h.broadcast(streamEvent{Kind: "edited", HearingID: hr.ID, Detail: field, Actor: actor})
}

func (h *Hub) RosterChanged(hr *hearing.Hearing, detail string) {
	h.broadcast(streamEvent{Kind: "roster", HearingID: hr.ID, Detail: detail})
}

func (h *Hub) VerdictPosted(hr *hearing.Hearing, outcome, actor string) {
	h.broadcast(streamEvent{Kind: "verdict", HearingID: hr.ID, Detail: outcome, Actor: actor})
}

func (h *Hub) HearingClosed(hr *hearing.Hearing, actor string) {
	h.broadcast(streamEvent{Kind: "closed", HearingID: hr.ID, Actor: actor})
}

func (h *Hub) broadcast(ev streamEvent) {
	ev.At = time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) subscribe() chan streamEvent {
	ch := make(chan streamEvent, 16)
	h.mu.Lock()
	h.clients[ch] = true
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan streamEvent) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// ClientCount returns the number of connected SSE clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handleSSE streams hub events to one client until it disconnects.
func (h *Hub) handleSSE() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		ch := h.subscribe()
		defer h.unsubscribe(ch)

		ctx := c.Request.Context()
		heartbeat := time.NewTicker(15 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case ev := <-ch:
				writeSSE(c.Writer, ev.Kind, ev)
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
