package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"intake.org/internal/auth"
)

// Stream handles Server-Sent Events for allocation notifications.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	receiverID, ok := subscriberID(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.hub.Subscribe(ctx, receiverID)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("id: " + event.ID + "\nevent: " + event.Kind + "\ndata: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

// subscriberID resolves whose notifications to stream. An authenticated
// caller only ever sees its own; otherwise receiver_id selects (0 = all).
func subscriberID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if uid, ok := auth.UserIDFromContext(r.Context()); ok {
		return uid, true
	}
	raw := strings.TrimSpace(r.URL.Query().Get("receiver_id"))
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		writeError(w, r, http.StatusBadRequest, "receiver_id must be a non-negative integer")
		return 0, false
	}
	return id, true
}
