package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"fknsrs.biz/p/bilifm/internal/ctxeventhub"
)

// Events streams application events as SSE. This is the channel the player
// page listens on for commands, status, and library changes.
func Events(rw http.ResponseWriter, r *http.Request) {
	hub := ctxeventhub.GetHub(r.Context())

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")

	ch, cancel := hub.Subscribe(16)
	defer cancel()

	fmt.Fprintf(rw, "event: hello\ndata: {}\n\n")
	if f, ok := rw.(http.Flusher); ok {
		f.Flush()
	}

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}

			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}

			fmt.Fprintf(rw, "data: %s\n\n", data)
			if f, ok := rw.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}
