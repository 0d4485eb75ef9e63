package relay

import (
	"encoding/json"

	"github.com/wailbentafat/debate-relay/broker"
)

const (
	EventConnected       = "connected"
	EventUpdate          = broker.DefaultEvent
	EventDebateCompleted = "debate_completed"
)

// Frame is one event delivered to a streaming client. Data is JSON text.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// FrameWriter delivers frames to one client. Implementations own the
// transport framing (SSE, WebSocket).
type FrameWriter interface {
	WriteFrame(f Frame) error
}

// FrameWriterFunc adapts a function to FrameWriter.
type FrameWriterFunc func(f Frame) error

func (fn FrameWriterFunc) WriteFrame(f Frame) error {
	return fn(f)
}

func connectedFrame() Frame {
	return Frame{Event: EventConnected, Data: json.RawMessage(`{"message":"Monitor connected"}`)}
}

func frameFromEnvelope(env broker.Envelope) Frame {
	return Frame{Event: env.Event, Data: env.Data}
}
