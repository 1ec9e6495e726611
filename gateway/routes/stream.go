package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"solfind/core/events"
	"solfind/core/types"
)

const wsWriteTimeout = 10 * time.Second

// payloadEvent is implemented by events that carry attributes.
type payloadEvent interface {
	Event() *types.Event
}

// streamEvents pushes listing, submission and escrow events to a websocket
// client. ?report=<address> narrows the stream to one report.
func (h *handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	report := strings.TrimSpace(r.URL.Query().Get("report"))
	// Subscribe before the handshake completes so nothing emitted after the
	// client sees the upgrade is missed.
	updates, cancel := h.stream.Subscribe()
	defer cancel()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.streamOrigins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// The client never sends data; CloseRead handles control frames and
	// cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())

	if err := streamUpdates(ctx, conn, updates, report); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamUpdates(ctx context.Context, conn *websocket.Conn, updates <-chan events.Event, report string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			payload := eventPayload(evt)
			if report != "" && payload.Attributes["report"] != report {
				continue
			}
			if err := writeEvent(ctx, conn, payload); err != nil {
				return err
			}
		}
	}
}

func eventPayload(evt events.Event) *types.Event {
	if pe, ok := evt.(payloadEvent); ok {
		if payload := pe.Event(); payload != nil {
			return payload
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, payload *types.Event) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
