// Package server provides the HTTP server and routing for Arbiter.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/arbiter/internal/events"
	"github.com/rs/zerolog"
)

const (
	streamBuffer      = 100
	heartbeatInterval = 30 * time.Second
)

// streamMessage is the JSON frame sent to SSE and websocket clients
type streamMessage struct {
	Type      string                 `json:"type"`
	Module    string                 `json:"module,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Message   string                 `json:"message,omitempty"`
}

func eventMessage(event *events.Event) streamMessage {
	return streamMessage{
		Type:      string(event.Type),
		Module:    event.Module,
		Timestamp: event.Timestamp.Format(time.RFC3339),
		Data:      event.Data,
	}
}

func controlMessage(kind, message string) streamMessage {
	return streamMessage{Type: kind, Timestamp: time.Now().Format(time.RFC3339), Message: message}
}

// parseTypes reads the comma-separated ?types= filter. Empty means every type.
func parseTypes(raw string) []events.EventType {
	if strings.TrimSpace(raw) == "" {
		return events.AllTypes
	}
	var types []events.EventType
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, events.EventType(t))
		}
	}
	return types
}

// subscription forwards bus events into a buffered channel until closed
type subscription struct {
	bus *events.Bus
	ids []events.SubscriptionID
	ch  chan *events.Event
}

func subscribe(bus *events.Bus, types []events.EventType, log zerolog.Logger) *subscription {
	sub := &subscription{bus: bus, ch: make(chan *events.Event, streamBuffer)}
	handler := func(event *events.Event) {
		// Never block the publisher; slow clients lose events
		select {
		case sub.ch <- event:
		default:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event channel full, dropping event")
		}
	}
	for _, t := range types {
		sub.ids = append(sub.ids, bus.Subscribe(t, handler))
	}
	return sub
}

func (s *subscription) close() {
	for _, id := range s.ids {
		s.bus.Unsubscribe(id)
	}
}

// EventsStreamHandler streams bus events as Server-Sent Events
type EventsStreamHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// NewEventsStreamHandler creates a new events stream handler
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream requests
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := subscribe(h.eventBus, parseTypes(r.URL.Query().Get("types")), h.log)
	defer sub.close()

	h.log.Debug().Int("subscriptions", len(sub.ids)).Msg("Client connected to event stream")

	h.send(w, controlMessage("connected", "Connected to event stream"))
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Debug().Msg("Client disconnected from event stream")
			return
		case event := <-sub.ch:
			h.send(w, eventMessage(event))
			flusher.Flush()
		case <-heartbeat.C:
			h.send(w, controlMessage("heartbeat", ""))
			flusher.Flush()
		}
	}
}

func (h *EventsStreamHandler) send(w http.ResponseWriter, msg streamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode event")
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
