// Package realtime pushes task changes to every open websocket session of an owner.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"

	"todo-agent/domain"
)

// FrameType names a websocket message.
type FrameType string

const (
	FrameConnected    FrameType = "connected"
	FrameSync         FrameType = "sync"
	FrameNotification FrameType = "notification"
	FramePing         FrameType = "ping"
	FramePong         FrameType = "pong"
	FrameError        FrameType = "error"
)

// Frame is the JSON envelope of every websocket message.
type Frame struct {
	Type FrameType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// Inbound is a received frame with its data left undecoded.
type Inbound struct {
	Type FrameType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SyncData is the payload of a sync frame.
type SyncData struct {
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Operation  string    `json:"operation"`
	Payload    any       `json:"payload"`
	Timestamp  time.Time `json:"timestamp"`
}

type messageData struct {
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncFrame converts a task event into the frame sent to the owner's sessions.
func SyncFrame(ev domain.TaskEvent) Frame {
	var payload any = ev.Task
	if ev.Type == domain.TaskDeleted {
		payload = map[string]string{"id": ev.TaskID, "title": ev.Task.Title}
	}
	return Frame{Type: FrameSync, Data: SyncData{
		EntityType: "task",
		EntityID:   ev.TaskID,
		Operation:  ev.Type.Operation(),
		Payload:    payload,
		Timestamp:  ev.Time,
	}}
}

func encode(f Frame) ([]byte, error) {
	return sonic.Marshal(f)
}

func control(t FrameType, message string, now time.Time) []byte {
	data, _ := encode(Frame{Type: t, Data: messageData{Message: message, Timestamp: now.UTC()}})
	return data
}
