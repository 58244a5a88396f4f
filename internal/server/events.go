package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ShayCichocki/missioncontrol/internal/stream"
)

// keepAlive is how often an idle event stream writes a blank line.
const keepAlive = 15 * time.Second

// events streams lifecycle events as NDJSON until the client goes away.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	ch, unsubscribe := s.opts.Bus.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	flush()

	enc := json.NewEncoder(w)
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flush()
		case <-ticker.C:
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			flush()
		}
	}
}
