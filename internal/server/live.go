package server

import (
	"context"
	"net/http"
	"time"

	"github.com/aristath/arbiter/internal/events"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const liveWriteTimeout = 5 * time.Second

// LiveHandler pushes bus events to websocket clients
type LiveHandler struct {
	eventBus *events.Bus
	origins  []string
	log      zerolog.Logger
}

// NewLiveHandler creates a websocket handler accepting the given origins.
// An empty list or "*" accepts any origin.
func NewLiveHandler(eventBus *events.Bus, origins []string, log zerolog.Logger) *LiveHandler {
	return &LiveHandler{
		eventBus: eventBus,
		origins:  origins,
		log:      log.With().Str("component", "live").Logger(),
	}
}

func (h *LiveHandler) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	if len(h.origins) == 0 {
		opts.InsecureSkipVerify = true
		return opts
	}
	for _, o := range h.origins {
		if o == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
	}
	opts.OriginPatterns = h.origins
	return opts
}

// ServeHTTP handles GET /api/live websocket upgrades
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	// Clients only listen; CloseRead handles control frames and cancels ctx on close
	ctx := conn.CloseRead(r.Context())

	sub := subscribe(h.eventBus, parseTypes(r.URL.Query().Get("types")), h.log)
	defer sub.close()

	if err := h.write(ctx, conn, controlMessage("connected", "Connected to live updates")); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-sub.ch:
			if err := h.write(ctx, conn, eventMessage(event)); err != nil {
				h.log.Debug().Err(err).Msg("Live client write failed")
				return
			}
		case <-heartbeat.C:
			pingCtx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *LiveHandler) write(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, msg)
}
