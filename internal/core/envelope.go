package core

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Envelope is the shape of every text frame, in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps payload into an envelope. Payloads that are already raw JSON
// are embedded as is.
func Encode(event string, payload any) (Frame, error) {
	var data json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		data = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode %q: %w", event, err)
		}
		data = b
	}
	b, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", event, err)
	}
	return b, nil
}

func Decode(f Frame) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
