package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// WriteSSE renders the event feed to an HTTP response as a text/event-stream
// until the channel closes or the client disconnects. Disconnect cancels
// the request context, which stops the publisher's polling.
func WriteSSE(w http.ResponseWriter, r *http.Request, events <-chan Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				zap.L().Debug("sse write failed, dropping subscriber", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev Event) error {
	if ev.Data == nil {
		_, err := fmt.Fprintf(w, "event: %s\ndata: {}\n\n", ev.Name)
		return err
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
	return err
}
