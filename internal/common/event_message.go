package common

import (
	"time"

	"github.com/okieraised/relay-controller/internal/constants"
)

// EventMessage is one frame of the /ws event stream.
type EventMessage struct {
	Header  Header `json:"header"`
	Payload any    `json:"payload"`
}

// Header follows VDA5050-like metadata.
type Header struct {
	HeaderID     int64               `json:"headerId"` // monotonic increasing
	Version      string              `json:"version"`
	SystemName   string              `json:"systemName"`
	ControllerID string              `json:"controllerId,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
	EventType    constants.EventType `json:"eventType"`
}
