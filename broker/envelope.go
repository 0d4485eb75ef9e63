package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultEvent is used when an envelope carries no event name.
const DefaultEvent = "update"

var emptyData = json.RawMessage(`{}`)

// Envelope is the unit carried on a debate channel. It is the only contract
// between producers and relays.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope encodes payload as the envelope data.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if raw, ok := payload.(json.RawMessage); ok && raw != nil {
		if !json.Valid(raw) {
			return Envelope{}, fmt.Errorf("encode %s payload: invalid JSON", event)
		}
		return Envelope{Event: event, Data: raw}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// MarshalBinary implements encoding.BinaryMarshaler interface
func (e Envelope) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler interface
func (e *Envelope) UnmarshalBinary(data []byte) error {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return err
	}
	*e = env
	return nil
}

// DecodeEnvelope parses a channel payload. It tolerates extra fields, a
// missing, null or empty event (DefaultEvent) and a missing data field ({}).
// Anything that is not a JSON object, or an event that is not a string,
// yields ErrMalformedEnvelope.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return Envelope{}, fmt.Errorf("%w: not a JSON object", ErrMalformedEnvelope)
	}

	env := Envelope{Event: DefaultEvent, Data: emptyData}

	if raw, ok := fields["event"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &env.Event); err != nil {
			return Envelope{}, fmt.Errorf("%w: event is not a string", ErrMalformedEnvelope)
		}
		if env.Event == "" {
			env.Event = DefaultEvent
		}
	}

	if raw, ok := fields["data"]; ok {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		env.Data = buf.Bytes()
	}

	return env, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
