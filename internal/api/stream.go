package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/slot-booking/internal/events"
)

// StreamHandler pushes slot changes of one doctor day as server-sent events.
type StreamHandler struct {
	bus       events.Bus
	log       zerolog.Logger
	heartbeat time.Duration
}

func NewStreamHandler(bus events.Bus, log zerolog.Logger) *StreamHandler {
	return &StreamHandler{bus: bus, log: log, heartbeat: 30 * time.Second}
}

// StreamSlots handles GET /doctors/{doctorID}/days/{date}/slots/stream
func (h *StreamHandler) StreamSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, date, err := doctorDay(r)
	if err != nil {
		handleError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported")
		return
	}

	channel := events.SlotChannel(doctorID, date)
	eventChan, err := h.bus.Subscribe(r.Context(), channel)
	if err != nil {
		h.log.Error().Err(err).Str("channel", channel).Msg("failed to subscribe to slot events")
		writeError(w, http.StatusServiceUnavailable, "stream_unavailable", "could not subscribe to slot events")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	h.sendEvent(w, "connected", map[string]any{
		"doctor_id": doctorID,
		"date":      date,
		"timestamp": time.Now().UTC(),
	})
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Debug().Str("channel", channel).Msg("slot stream client disconnected")
			return
		case <-ticker.C:
			h.sendEvent(w, "heartbeat", map[string]any{"timestamp": time.Now().UTC()})
			flusher.Flush()
		case ev, ok := <-eventChan:
			if !ok {
				return
			}
			h.sendEvent(w, ev.Type, ev)
			flusher.Flush()
		}
	}
}

func (h *StreamHandler) sendEvent(w http.ResponseWriter, name string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.log.Error().Err(err).Str("event", name).Msg("failed to encode stream event")
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
}
