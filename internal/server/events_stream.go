package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nexus/internal/events"
)

const (
	eventBufferSize   = 100
	heartbeatInterval = 30 * time.Second
)

// EventsStreamHandler streams bus events to clients as Server-Sent Events
type EventsStreamHandler struct {
	bus       *events.Bus
	heartbeat time.Duration
	log       zerolog.Logger
}

// NewEventsStreamHandler creates a new events stream handler
func NewEventsStreamHandler(bus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		bus:       bus,
		heartbeat: heartbeatInterval,
		log:       log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream?types=A,B
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	subscribed := events.AllTypes
	if filter := r.URL.Query().Get("types"); filter != "" {
		subscribed = nil
		for _, t := range strings.Split(filter, ",") {
			if t = strings.TrimSpace(t); t != "" {
				subscribed = append(subscribed, events.EventType(t))
			}
		}
	}

	eventChan := make(chan *events.Event, eventBufferSize)
	handler := func(event *events.Event) {
		// Never block the publisher
		select {
		case eventChan <- event:
		default:
			h.log.Warn().Str("event_type", string(event.Type)).Msg("Event channel full, dropping event")
		}
	}
	for _, t := range subscribed {
		unsubscribe := h.bus.Subscribe(t, handler)
		defer unsubscribe()
	}

	h.log.Info().Int("types", len(subscribed)).Msg("Client connected to event stream")

	h.write(w, map[string]interface{}{
		"type":    "connected",
		"message": "Connected to event stream",
	})
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Info().Msg("Client disconnected from event stream")
			return

		case event := <-eventChan:
			h.write(w, map[string]interface{}{
				"type":      string(event.Type),
				"module":    event.Module,
				"timestamp": event.Timestamp.Format(time.RFC3339),
				"data":      event.Data,
			})
			flusher.Flush()

		case <-ticker.C:
			h.write(w, map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			})
			flusher.Flush()
		}
	}
}

func (h *EventsStreamHandler) write(w http.ResponseWriter, event map[string]interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		data = []byte(`{"error":"failed to encode event"}`)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
