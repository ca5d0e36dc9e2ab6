package gateway

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// inbound event names
const (
	EventConnect = "connect"
	EventPing    = "ping"
	EventPong    = "pong"
)

// Frame is the text envelope used in both directions: {"event": ..., "data": ...}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func ParseFrame(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, errors.Wrap(err, "unmarshal frame")
	}
	if f.Event == "" {
		return nil, errors.New("frame without event")
	}
	return f, nil
}

// AuthData returns the connect frame payload as the handshake auth map. A
// frame without data yields an empty map.
func (f *Frame) AuthData() (map[string]any, error) {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(f.Data, &m); err != nil {
		return nil, errors.Wrap(err, "connect frame data")
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func encodeFrame(event string, payload any) ([]byte, error) {
	b, err := json.Marshal(outFrame{Event: event, Data: payload})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s frame", event)
	}
	return b, nil
}
