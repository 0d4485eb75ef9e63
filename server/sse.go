package server

import (
	"net/http"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/wailbentafat/debate-relay/relay"
)

// sseWriter writes relay frames as named server-sent events.
type sseWriter struct {
	w gin.ResponseWriter
}

func startSSE(w gin.ResponseWriter) sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()
	return sseWriter{w: w}
}

func (s sseWriter) WriteFrame(f relay.Frame) error {
	if err := sse.Encode(s.w, sse.Event{Event: f.Event, Data: string(f.Data)}); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}
