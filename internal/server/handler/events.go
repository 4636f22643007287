package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/alanyoungcy/dake/internal/domain"
)

// EventReader replays recent bus events, oldest first.
type EventReader interface {
	Recent(ctx context.Context, channel string, count int64) ([][]byte, error)
}

// EventsHandler serves the event replay endpoint.
type EventsHandler struct {
	events EventReader
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(events EventReader, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{events: events, logger: logger.With(slog.String("handler", "events"))}
}

var eventChannels = []string{domain.ChannelMarkets, domain.ChannelPositions}

// Recent handles GET /api/events?channel=markets&limit=50.
func (h *EventsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := q.Get("channel")
	if channel == "" {
		channel = domain.ChannelMarkets
	}
	if !slices.Contains(eventChannels, channel) {
		writeError(w, http.StatusBadRequest, "unknown channel "+strconv.Quote(channel))
		return
	}
	limit := int64(50)
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid limit "+strconv.Quote(v))
			return
		}
		limit = n
	}

	raw, err := h.events.Recent(r.Context(), channel, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "recent events", err)
		return
	}
	events := make([]json.RawMessage, 0, len(raw))
	for _, b := range raw {
		if json.Valid(b) {
			events = append(events, b)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": channel, "events": events})
}
