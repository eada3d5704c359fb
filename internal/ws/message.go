package ws

import (
	"encoding/json"
	"supmap-location/internal/location"
	"time"
)

const (
	// Device to server.
	TypePosition = "position"
	TypeError    = "error"
	TypeLocate   = "locate"
	TypeCancel   = "cancel"

	// Server to device (TypeError is shared).
	TypeStart     = "start"
	TypeStop      = "stop"
	TypeLocation  = "location"
	TypeCancelled = "cancelled"

	// Server to watcher.
	TypeUpdate = "update"
)

type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func NewMessage(msgType string, data any) Message {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = json.RawMessage("null")
	}
	return Message{Type: msgType, Data: raw}
}

// LocateRequest overrides the default session filter. Durations are in seconds.
type LocateRequest struct {
	DesiredAccuracy *float64 `json:"desired_accuracy,omitempty"`
	MaxAge          *float64 `json:"max_age,omitempty"`
	Timeout         *float64 `json:"timeout,omitempty"`
}

func (r LocateRequest) Apply(cfg location.SessionConfig) location.SessionConfig {
	if r.DesiredAccuracy != nil {
		cfg.DesiredAccuracy = *r.DesiredAccuracy
	}
	if r.MaxAge != nil {
		cfg.MaxAge = seconds(*r.MaxAge)
	}
	if r.Timeout != nil {
		cfg.Timeout = seconds(*r.Timeout)
	}
	return cfg
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

type ErrorPayload struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type LocationPayload struct {
	Position  location.Position `json:"position"`
	SessionID string            `json:"session_id"`
}
