package event

import "encoding/json"

// WsEvent is the envelope for every frame crossing the WebSocket.
type WsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds a WsEvent, marshalling the payload. Marshal failures are
// impossible for the payload types in this package, so they are dropped.
func New(name string, payload any) WsEvent {
	raw, _ := json.Marshal(payload)
	return WsEvent{Event: name, Payload: raw}
}
