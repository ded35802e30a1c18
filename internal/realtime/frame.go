package realtime

import (
	"encoding/json"
	"time"
)

// Action is the protocol verb of a frame.
type Action string

const (
	ActionAttach    Action = "attach"
	ActionAttached  Action = "attached"
	ActionDetach    Action = "detach"
	ActionDetached  Action = "detached"
	ActionMessage   Action = "message"
	ActionError     Action = "error"
	ActionHeartbeat Action = "heartbeat"
)

// Frame is one JSON envelope exchanged with the realtime server.
type Frame struct {
	Action    Action          `json:"action"`
	Channel   string          `json:"channel,omitempty"`
	Name      string          `json:"name,omitempty"`
	ID        string          `json:"id,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Message is an event delivered on the attached channel.
type Message struct {
	Name      string
	ID        string
	ClientID  string
	Data      json.RawMessage
	Timestamp time.Time
}

func messageFromFrame(f Frame) Message {
	msg := Message{
		Name:     f.Name,
		ID:       f.ID,
		ClientID: f.ClientID,
		Data:     f.Data,
	}
	if f.Timestamp > 0 {
		msg.Timestamp = time.UnixMilli(f.Timestamp)
	}
	return msg
}
